package logger_fx

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"subyield/internal/config"
	"subyield/internal/infra"
)

var Module = fx.Options(
	fx.Provide(provideLogger),
	fx.Invoke(registerSync),
)

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return infra.NewLogger(cfg.LogLevel)
}

func registerSync(lc fx.Lifecycle, logger *zap.Logger) {
	lc.Append(fx.StopHook(func() {
		_ = logger.Sync()
	}))
}
