package controllers

import (
	"github.com/gin-gonic/gin"

	"subyield/internal/config"
	"subyield/internal/models/response_models"
	"subyield/internal/services"
	"subyield/pkg/utils"
)

// BackendController exposes the operations the scheduler performs, for operators who
// drive charges from outside the process.
type BackendController struct {
	ledger   services.SubscriptionLedger
	decimals int32
}

func NewBackendController(ledger services.SubscriptionLedger, cfg *config.Config) *BackendController {
	return &BackendController{
		ledger:   ledger,
		decimals: cfg.TokenDecimals,
	}
}

// ChargeSubscription godoc
// @Summary Process a recurring monthly charge
// @Description Backend identity only. Returns charged=false when the subscription is not due.
// @Tags Backend
// @Produce json
// @Param subscriber path string true "Subscriber address"
// @Param planId path int true "Plan ID"
// @Success 200 {object} utils.APIResponse
// @Failure 402 {object} utils.APIResponse
// @Failure 403 {object} utils.APIResponse
// @Security BearerAuth
// @Router /backend/subscriptions/{subscriber}/{planId}/charge [post]
func (bc *BackendController) ChargeSubscription(c *gin.Context) {
	key, err := subscriptionKeyParams(c)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	res, err := bc.ledger.ProcessMonthlyPayment(c.Request.Context(), caller(c), key.Subscriber, key.PlanID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, response_models.ChargeResponse{
		Charged:        res.Charged,
		Amount:         utils.FormatAmount(res.Amount, bc.decimals),
		ExpirationTime: res.ExpirationTime,
	}, "Charge processed")
}

// ExpireSubscription godoc
// @Summary Settle a lapsed subscription
// @Description Backend or admin. Moves an overdue ACTIVE subscription to EXPIRED and pays out principal plus yield.
// @Tags Backend
// @Produce json
// @Param subscriber path string true "Subscriber address"
// @Param planId path int true "Plan ID"
// @Success 200 {object} utils.APIResponse
// @Failure 403 {object} utils.APIResponse
// @Security BearerAuth
// @Router /backend/subscriptions/{subscriber}/{planId}/expire [post]
func (bc *BackendController) ExpireSubscription(c *gin.Context) {
	key, err := subscriptionKeyParams(c)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	res, err := bc.ledger.CheckAndUpdateExpiration(c.Request.Context(), caller(c), key.Subscriber, key.PlanID)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, toSettlementResponse(res, bc.decimals), "Expiration checked")
}
