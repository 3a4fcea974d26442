package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"subyield/internal/api/controllers"
	"subyield/internal/config"
	mem "subyield/pkg/memcache"
	"subyield/pkg/middleware"
)

const idempotencyTTL = 24 * time.Hour

type Controllers struct {
	Plan         *controllers.PlanController
	Subscription *controllers.SubscriptionController
	Backend      *controllers.BackendController
	Admin        *controllers.AdminController
	Sandbox      *controllers.SandboxController
	Health       *controllers.HealthController
}

func NewRouter(
	cfg *config.Config,
	ctrl Controllers,
	httpMetrics *middleware.HTTPMetrics,
	idempotency mem.IdempotencyStore,
	logger *zap.Logger,
) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.TraceIDMiddleware())
	r.Use(middleware.RequestLogger(logger.Named("http")))
	r.Use(httpMetrics.Middleware())
	r.Use(middleware.CORSMiddleware(cfg.CORSOrigins))
	r.Use(middleware.RateLimitMiddleware(middleware.RateLimitConfig{RequestsPerMinute: cfg.RateLimitPerMinute}))

	RegisterRoutes(r, cfg, ctrl, idempotency)
	return r
}

func RegisterRoutes(r *gin.Engine, cfg *config.Config, ctrl Controllers, idempotency mem.IdempotencyStore) {
	auth := middleware.JWTAuthMiddleware(cfg.JWTSecret)
	idem := middleware.IdempotencyMiddleware(idempotency, idempotencyTTL)

	r.GET("/healthz", ctrl.Health.Healthz)
	r.GET("/metrics", ctrl.Health.Metrics())

	plansGroup := r.Group("/plans")
	plansGroup.GET("", ctrl.Plan.ListPlans)
	plansGroup.GET("/:id", ctrl.Plan.GetPlan)
	plansGroup.POST("", auth, idem, ctrl.Plan.CreatePlan)
	plansGroup.PUT("/:id", auth, ctrl.Plan.UpdatePlan)

	subsGroup := r.Group("/subscriptions")
	subsGroup.GET("/:subscriber", ctrl.Subscription.ListSubscriptions)
	subsGroup.GET("/:subscriber/:planId", ctrl.Subscription.GetSubscription)
	subsGroup.POST("/monthly", auth, idem, ctrl.Subscription.SubscribeMonthly)
	subsGroup.POST("/yearly", auth, idem, ctrl.Subscription.SubscribeYearly)
	subsGroup.POST("/:planId/cancel", auth, idem, ctrl.Subscription.CancelSubscription)
	subsGroup.PUT("/:planId/auto-pay", auth, ctrl.Subscription.SetAutoPay)

	backendGroup := r.Group("/backend", auth)
	backendGroup.POST("/subscriptions/:subscriber/:planId/charge", idem, ctrl.Backend.ChargeSubscription)
	backendGroup.POST("/subscriptions/:subscriber/:planId/expire", ctrl.Backend.ExpireSubscription)

	adminGroup := r.Group("/admin", auth, middleware.RoleMiddleware(controllers.RoleAdmin))
	adminGroup.POST("/pause", ctrl.Admin.Pause)
	adminGroup.POST("/unpause", ctrl.Admin.Unpause)
	adminGroup.PUT("/backend", ctrl.Admin.RotateBackend)
	adminGroup.POST("/scheduler/tick", ctrl.Admin.RunTick)
	adminGroup.GET("/scheduler/status", ctrl.Admin.SchedulerStatus)
	adminGroup.PUT("/scheduler/tracked/:subscriber/:planId", ctrl.Admin.Track)
	adminGroup.DELETE("/scheduler/tracked/:subscriber/:planId", ctrl.Admin.Untrack)

	sandboxGroup := r.Group("/sandbox")
	sandboxGroup.POST("/mint", ctrl.Sandbox.Mint)
	sandboxGroup.POST("/approve", auth, ctrl.Sandbox.Approve)
	sandboxGroup.GET("/balances/:address", ctrl.Sandbox.Balances)
	sandboxGroup.POST("/token", middleware.OptionalJWTAuthMiddleware(cfg.JWTSecret), ctrl.Sandbox.IssueToken)
	sandboxGroup.POST("/clock/advance", ctrl.Sandbox.AdvanceClock)
}
