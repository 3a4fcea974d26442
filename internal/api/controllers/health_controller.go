package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"subyield/internal/services"
	"subyield/pkg/utils"
)

type HealthController struct {
	ledger   services.SubscriptionLedger
	gatherer prometheus.Gatherer
}

func NewHealthController(ledger services.SubscriptionLedger, gatherer prometheus.Gatherer) *HealthController {
	return &HealthController{
		ledger:   ledger,
		gatherer: gatherer,
	}
}

// Healthz godoc
// @Summary Liveness and storage reachability
// @Tags Health
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Failure 503 {object} utils.APIResponse
// @Router /healthz [get]
func (hc *HealthController) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := hc.ledger.Ping(ctx); err != nil {
		utils.RespondError(c, http.StatusServiceUnavailable, "Ledger storage unreachable")
		return
	}
	paused, err := hc.ledger.Paused(ctx)
	if err != nil {
		utils.RespondError(c, http.StatusServiceUnavailable, "Ledger storage unreachable")
		return
	}
	utils.RespondSuccess(c, gin.H{"status": "ok", "paused": paused}, "")
}

// Metrics serves the Prometheus exposition format.
func (hc *HealthController) Metrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(hc.gatherer, promhttp.HandlerOpts{}))
}
