package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"subyield/internal/config"
	"subyield/internal/models/db_models"
	"subyield/internal/models/request_models"
	"subyield/internal/models/response_models"
	"subyield/internal/services"
	"subyield/pkg/utils"
)

type SubscriptionController struct {
	ledger   services.SubscriptionLedger
	decimals int32
}

func NewSubscriptionController(ledger services.SubscriptionLedger, cfg *config.Config) *SubscriptionController {
	return &SubscriptionController{
		ledger:   ledger,
		decimals: cfg.TokenDecimals,
	}
}

// SubscribeMonthly godoc
// @Summary Subscribe to a plan monthly
// @Description Pulls the first month from the caller's allowance. With stake_yearly the yearly rate is pulled and staked instead.
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param request body request_models.SubscribeMonthlyRequest true "Monthly subscription"
// @Success 200 {object} utils.APIResponse
// @Failure 402 {object} utils.APIResponse
// @Failure 409 {object} utils.APIResponse
// @Security BearerAuth
// @Router /subscriptions/monthly [post]
func (sc *SubscriptionController) SubscribeMonthly(c *gin.Context) {
	var req request_models.SubscribeMonthlyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	autoPay := true
	if req.AutoPay != nil {
		autoPay = *req.AutoPay
	}

	sub, err := sc.ledger.SubscribeMonthly(c.Request.Context(), caller(c), req.PlanID, req.StakeYearly, autoPay)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, toSubscriptionResponse(sub, sc.decimals), "Subscribed monthly successfully")
}

// SubscribeYearly godoc
// @Summary Prepay a plan for a year
// @Description Pulls the yearly rate and stakes it in the yield vault until the subscription ends.
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param request body request_models.SubscribeYearlyRequest true "Yearly subscription"
// @Success 200 {object} utils.APIResponse
// @Failure 402 {object} utils.APIResponse
// @Failure 409 {object} utils.APIResponse
// @Security BearerAuth
// @Router /subscriptions/yearly [post]
func (sc *SubscriptionController) SubscribeYearly(c *gin.Context) {
	var req request_models.SubscribeYearlyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	sub, err := sc.ledger.SubscribeYearly(c.Request.Context(), caller(c), req.PlanID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, toSubscriptionResponse(sub, sc.decimals), "Subscribed yearly successfully")
}

// CancelSubscription godoc
// @Summary Cancel the caller's subscription
// @Description Staked principal is returned; accrued yield stays with the treasury.
// @Tags Subscriptions
// @Produce json
// @Param planId path int true "Plan ID"
// @Success 200 {object} utils.APIResponse
// @Failure 404 {object} utils.APIResponse
// @Failure 409 {object} utils.APIResponse
// @Security BearerAuth
// @Router /subscriptions/{planId}/cancel [post]
func (sc *SubscriptionController) CancelSubscription(c *gin.Context) {
	planID, err := planIDParam(c, "planId")
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	res, err := sc.ledger.CancelSubscription(c.Request.Context(), caller(c), planID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, toSettlementResponse(res, sc.decimals), "Subscription cancelled successfully")
}

// SetAutoPay godoc
// @Summary Toggle auto-pay
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param planId path int true "Plan ID"
// @Param request body request_models.SetAutoPayRequest true "Auto-pay flag"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /subscriptions/{planId}/auto-pay [put]
func (sc *SubscriptionController) SetAutoPay(c *gin.Context) {
	planID, err := planIDParam(c, "planId")
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	var req request_models.SetAutoPayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	sub, err := sc.ledger.SetAutoPay(c.Request.Context(), caller(c), planID, *req.Enabled)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, toSubscriptionResponse(sub, sc.decimals), "Auto-pay updated successfully")
}

// GetSubscription godoc
// @Summary Get a subscription
// @Tags Subscriptions
// @Produce json
// @Param subscriber path string true "Subscriber address"
// @Param planId path int true "Plan ID"
// @Success 200 {object} utils.APIResponse
// @Failure 404 {object} utils.APIResponse
// @Router /subscriptions/{subscriber}/{planId} [get]
func (sc *SubscriptionController) GetSubscription(c *gin.Context) {
	key, err := subscriptionKeyParams(c)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	sub, err := sc.ledger.GetSubscription(c.Request.Context(), key.Subscriber, key.PlanID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, toSubscriptionResponse(sub, sc.decimals), "Fetched subscription successfully")
}

// ListSubscriptions godoc
// @Summary List a subscriber's subscriptions
// @Description ?status=active limits the result to ACTIVE subscriptions
// @Tags Subscriptions
// @Produce json
// @Param subscriber path string true "Subscriber address"
// @Param status query string false "active"
// @Success 200 {object} utils.APIResponse
// @Router /subscriptions/{subscriber} [get]
func (sc *SubscriptionController) ListSubscriptions(c *gin.Context) {
	subscriber, err := addressParam(c, "subscriber")
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	var subs []db_models.Subscription
	switch c.Query("status") {
	case "":
		subs, err = sc.ledger.ListSubscriptions(c.Request.Context(), subscriber)
	case "active":
		subs, err = sc.ledger.ListActiveSubscriptions(c.Request.Context(), subscriber)
	default:
		utils.RespondError(c, http.StatusBadRequest, "Invalid status filter (must be active)")
		return
	}
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	out := make([]response_models.SubscriptionStatusResponse, 0, len(subs))
	for i := range subs {
		out = append(out, toSubscriptionResponse(&subs[i], sc.decimals))
	}
	utils.RespondSuccess(c, out, "Fetched subscriptions successfully")
}
