package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"subyield/cmd/fx/config_fx"
	"subyield/cmd/fx/controllers_fx"
	"subyield/cmd/fx/custody_fx"
	"subyield/cmd/fx/db_fx"
	"subyield/cmd/fx/ledger_fx"
	"subyield/cmd/fx/logger_fx"
	"subyield/cmd/fx/memcache_fx"
	"subyield/cmd/fx/metrics_fx"
	"subyield/cmd/fx/scheduler_fx"
	"subyield/internal/api"
	"subyield/internal/config"
	mem "subyield/pkg/memcache"
	"subyield/pkg/middleware"
)

func main() {
	app := fx.New(
		config_fx.Module,
		logger_fx.Module,
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		db_fx.Module,
		custody_fx.Module,
		ledger_fx.Module,
		metrics_fx.Module,
		memcache_fx.Module,
		scheduler_fx.Module,
		controllers_fx.Module,

		fx.Provide(ProvideRouter),
		fx.Invoke(StartServer),
	)

	app.Run()
}

func StartServer(lc fx.Lifecycle, engine *gin.Engine, cfg *config.Config, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal("HTTP server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping HTTP server")
			return srv.Shutdown(ctx)
		},
	})
}

func ProvideRouter(
	cfg *config.Config,
	ctrl api.Controllers,
	httpMetrics *middleware.HTTPMetrics,
	idempotency mem.IdempotencyStore,
	logger *zap.Logger) *gin.Engine {

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	return api.NewRouter(cfg, ctrl, httpMetrics, idempotency, logger)
}
