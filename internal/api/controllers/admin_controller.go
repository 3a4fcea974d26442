package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"subyield/internal/models/request_models"
	"subyield/internal/models/response_models"
	"subyield/internal/scheduler"
	"subyield/internal/services"
	"subyield/pkg/utils"
)

type AdminController struct {
	ledger    services.SubscriptionLedger
	authority services.Authority
	scheduler *scheduler.PaymentScheduler
}

func NewAdminController(
	ledger services.SubscriptionLedger,
	authority services.Authority,
	sched *scheduler.PaymentScheduler,
) *AdminController {
	return &AdminController{
		ledger:    ledger,
		authority: authority,
		scheduler: sched,
	}
}

// Pause godoc
// @Summary Pause new subscriptions and recurring charges
// @Description Cancellation and expiry keep working while paused.
// @Tags Admin
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Failure 403 {object} utils.APIResponse
// @Security BearerAuth
// @Router /admin/pause [post]
func (ac *AdminController) Pause(c *gin.Context) {
	if err := ac.ledger.Pause(c.Request.Context(), caller(c)); err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, gin.H{"paused": true}, "Ledger paused")
}

// Unpause godoc
// @Summary Resume subscriptions and recurring charges
// @Tags Admin
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /admin/unpause [post]
func (ac *AdminController) Unpause(c *gin.Context) {
	if err := ac.ledger.Unpause(c.Request.Context(), caller(c)); err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, gin.H{"paused": false}, "Ledger unpaused")
}

// RotateBackend godoc
// @Summary Replace the backend identity
// @Description The previous backend loses charge and expiry rights immediately.
// @Tags Admin
// @Accept json
// @Produce json
// @Param request body request_models.RotateBackendRequest true "New backend address"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /admin/backend [put]
func (ac *AdminController) RotateBackend(c *gin.Context) {
	var req request_models.RotateBackendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := ac.ledger.RotateBackend(c.Request.Context(), caller(c), req.Address); err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, gin.H{"backend": ac.authority.Backend()}, "Backend identity rotated")
}

// RunTick godoc
// @Summary Run one scheduler tick now
// @Tags Admin
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Failure 409 {object} utils.APIResponse
// @Security BearerAuth
// @Router /admin/scheduler/tick [post]
func (ac *AdminController) RunTick(c *gin.Context) {
	if !ac.authorize(c) {
		return
	}

	report, err := ac.scheduler.RunOnce(c.Request.Context())
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, toTickReportResponse(report), "Scheduler tick complete")
}

// SchedulerStatus godoc
// @Summary Scheduler status and last tick report
// @Tags Admin
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /admin/scheduler/status [get]
func (ac *AdminController) SchedulerStatus(c *gin.Context) {
	if !ac.authorize(c) {
		return
	}

	st, err := ac.scheduler.Status(c.Request.Context())
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	out := response_models.SchedulerStatusResponse{
		Running: st.Running,
		Ticking: st.Ticking,
		Tracked: st.Tracked,
		Cursor:  st.Cursor,
	}
	if st.LastReport != nil {
		out.LastReport = toTickReportResponse(*st.LastReport)
	}
	utils.RespondSuccess(c, out, "Fetched scheduler status successfully")
}

// Track godoc
// @Summary Add a subscription to the scheduler's working set
// @Tags Admin
// @Produce json
// @Param subscriber path string true "Subscriber address"
// @Param planId path int true "Plan ID"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /admin/scheduler/tracked/{subscriber}/{planId} [put]
func (ac *AdminController) Track(c *gin.Context) {
	if !ac.authorize(c) {
		return
	}
	key, err := subscriptionKeyParams(c)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	if err := ac.scheduler.Track(c.Request.Context(), key); err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, gin.H{"key": key.String()}, "Subscription tracked")
}

// Untrack godoc
// @Summary Remove a subscription from the scheduler's working set
// @Tags Admin
// @Produce json
// @Param subscriber path string true "Subscriber address"
// @Param planId path int true "Plan ID"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /admin/scheduler/tracked/{subscriber}/{planId} [delete]
func (ac *AdminController) Untrack(c *gin.Context) {
	if !ac.authorize(c) {
		return
	}
	key, err := subscriptionKeyParams(c)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	if err := ac.scheduler.Untrack(c.Request.Context(), key); err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, gin.H{"key": key.String()}, "Subscription untracked")
}

func (ac *AdminController) authorize(c *gin.Context) bool {
	if err := ac.authority.AuthorizeAdmin(c.Request.Context(), caller(c)); err != nil {
		utils.HandleServiceError(c, err)
		return false
	}
	return true
}
