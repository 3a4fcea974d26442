package scheduler_fx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"subyield/internal/config"
	"subyield/internal/infra"
	"subyield/internal/scheduler"
	"subyield/internal/services"
)

const redisKeyPrefix = "subyield:scheduler:"

var Module = fx.Options(
	fx.Provide(
		provideWorkingSet,
		scheduler.MustNewMetrics,
		providePaymentScheduler,
	),
	fx.Invoke(startScheduler),
)

func provideWorkingSet(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (scheduler.WorkingSet, error) {
	if cfg.RedisURL == "" {
		return scheduler.NewMemoryWorkingSet(), nil
	}
	client, err := infra.InitRedis(context.Background(), cfg.RedisURL, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(func() {
		infra.CloseRedis(client, logger)
	}))
	return scheduler.NewRedisWorkingSet(client, redisKeyPrefix), nil
}

func providePaymentScheduler(
	ledger services.SubscriptionLedger,
	set scheduler.WorkingSet,
	identity scheduler.Identity,
	metrics *scheduler.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) *scheduler.PaymentScheduler {
	return scheduler.NewPaymentScheduler(ledger, set, identity, scheduler.Config{
		Interval:        cfg.CheckInterval,
		Concurrency:     cfg.SchedulerConcurrency,
		JobTimeout:      cfg.SchedulerJobTimeout,
		ShutdownTimeout: cfg.SchedulerShutdownTimeout,
		RunOnStart:      cfg.SchedulerRunOnStart,
	}, metrics, logger)
}

func startScheduler(lc fx.Lifecycle, s *scheduler.PaymentScheduler) {
	lc.Append(fx.Hook{
		OnStart: s.Start,
		OnStop:  s.Stop,
	})
}
