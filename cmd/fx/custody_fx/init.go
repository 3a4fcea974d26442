package custody_fx

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"subyield/internal/config"
	"subyield/internal/custody"
	"subyield/pkg/utils"
)

var Module = fx.Provide(
	provideClock,
	provideSandboxToken,
	provideSandboxVault,
	func(t *custody.SandboxToken) custody.PaymentToken { return t },
	func(v *custody.SandboxVault) custody.YieldVault { return v },
)

func provideClock(cfg *config.Config, logger *zap.Logger) utils.Clock {
	if cfg.Clock == config.ClockManual {
		logger.Warn("using a manual clock; time only moves through /sandbox/clock/advance")
		return utils.NewManualClock(utils.SystemClock{}.Now())
	}
	return utils.SystemClock{}
}

func provideSandboxToken(cfg *config.Config) *custody.SandboxToken {
	return custody.NewSandboxToken(cfg.TreasuryAddress)
}

func provideSandboxVault(cfg *config.Config, token *custody.SandboxToken, clock utils.Clock) *custody.SandboxVault {
	return custody.NewSandboxVault(token, cfg.VaultAddress, clock, cfg.VaultAPYBps)
}
