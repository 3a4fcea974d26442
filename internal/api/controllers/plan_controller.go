package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"subyield/internal/config"
	"subyield/internal/models/request_models"
	"subyield/internal/models/response_models"
	"subyield/internal/services"
	"subyield/pkg/utils"
)

type PlanController struct {
	planService services.PlanServiceInterface
	decimals    int32
}

func NewPlanController(planService services.PlanServiceInterface, cfg *config.Config) *PlanController {
	return &PlanController{
		planService: planService,
		decimals:    cfg.TokenDecimals,
	}
}

// ListPlans godoc
// @Summary List subscription plans
// @Description List every plan, or only active ones with ?active=true
// @Tags Plans
// @Produce json
// @Param active query bool false "Only active plans"
// @Success 200 {object} utils.APIResponse
// @Router /plans [get]
func (pc *PlanController) ListPlans(c *gin.Context) {
	activeOnly, err := strconv.ParseBool(c.DefaultQuery("active", "false"))
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid active flag")
		return
	}

	plans, err := pc.planService.ListPlans(c.Request.Context(), activeOnly)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	out := make([]response_models.SubscriptionPlan, 0, len(plans))
	for i := range plans {
		out = append(out, toPlanResponse(&plans[i], pc.decimals))
	}
	utils.RespondSuccess(c, out, "Fetched plans successfully")
}

// GetPlan godoc
// @Summary Get a subscription plan
// @Tags Plans
// @Produce json
// @Param id path int true "Plan ID"
// @Success 200 {object} utils.APIResponse
// @Failure 404 {object} utils.APIResponse
// @Router /plans/{id} [get]
func (pc *PlanController) GetPlan(c *gin.Context) {
	id, err := planIDParam(c, "id")
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	plan, err := pc.planService.GetPlan(c.Request.Context(), id)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, toPlanResponse(plan, pc.decimals), "Fetched plan successfully")
}

// CreatePlan godoc
// @Summary Create a subscription plan
// @Description Admin or an allowlisted provider publishes a plan. Rates are decimal token amounts.
// @Tags Plans
// @Accept json
// @Produce json
// @Param request body request_models.CreatePlanRequest true "Plan"
// @Success 200 {object} utils.APIResponse
// @Failure 400 {object} utils.APIResponse
// @Failure 403 {object} utils.APIResponse
// @Security BearerAuth
// @Router /plans [post]
func (pc *PlanController) CreatePlan(c *gin.Context) {
	var req request_models.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	input, err := pc.planInput(req.Name, req.MonthlyRate, req.YearlyRate, nil)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	plan, err := pc.planService.CreatePlan(c.Request.Context(), caller(c), input)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, toPlanResponse(plan, pc.decimals), "Plan created successfully")
}

// UpdatePlan godoc
// @Summary Update a subscription plan
// @Description Replaces name, rates and the active flag. Existing subscriptions keep their rate snapshot.
// @Tags Plans
// @Accept json
// @Produce json
// @Param id path int true "Plan ID"
// @Param request body request_models.UpdatePlanRequest true "Plan"
// @Success 200 {object} utils.APIResponse
// @Failure 403 {object} utils.APIResponse
// @Failure 404 {object} utils.APIResponse
// @Security BearerAuth
// @Router /plans/{id} [put]
func (pc *PlanController) UpdatePlan(c *gin.Context) {
	id, err := planIDParam(c, "id")
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	var req request_models.UpdatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	input, err := pc.planInput(req.Name, req.MonthlyRate, req.YearlyRate, req.IsActive)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	plan, err := pc.planService.UpdatePlan(c.Request.Context(), caller(c), id, input)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, toPlanResponse(plan, pc.decimals), "Plan updated successfully")
}

func (pc *PlanController) planInput(name, monthly, yearly string, active *bool) (services.PlanInput, error) {
	monthlyRate, err := utils.ParseAmount(monthly, pc.decimals)
	if err != nil {
		return services.PlanInput{}, err
	}
	yearlyRate, err := utils.ParseAmount(yearly, pc.decimals)
	if err != nil {
		return services.PlanInput{}, err
	}
	return services.PlanInput{
		Name:        name,
		MonthlyRate: monthlyRate,
		YearlyRate:  yearlyRate,
		IsActive:    active,
	}, nil
}
