package ledger_fx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"subyield/internal/config"
	"subyield/internal/custody"
	"subyield/internal/repositories"
	"subyield/internal/scheduler"
	"subyield/internal/services"
	"subyield/pkg/utils"
)

var Module = fx.Options(
	fx.Provide(
		provideAuthority,
		func(a *services.RoleAuthority) services.Authority { return a },
		func(a *services.RoleAuthority) scheduler.Identity { return a },
		providePlanService,
		provideSubscriptionLedger,
	),
	fx.Invoke(restoreSettings),
)

func provideAuthority(cfg *config.Config) (*services.RoleAuthority, error) {
	return services.NewRoleAuthority(cfg.AdminAddress, cfg.BackendAddress, cfg.ProviderAddresses)
}

func providePlanService(repo repositories.LedgerRepository, authority services.Authority, clock utils.Clock, logger *zap.Logger) services.PlanServiceInterface {
	return services.NewPlanService(repo, authority, clock, logger)
}

func provideSubscriptionLedger(
	repo repositories.LedgerRepository,
	plans services.PlanServiceInterface,
	authority services.Authority,
	token custody.PaymentToken,
	vault custody.YieldVault,
	clock utils.Clock,
	cfg *config.Config,
	logger *zap.Logger,
) services.SubscriptionLedger {
	return services.NewSubscriptionLedger(repo, plans, authority, token, vault, clock,
		services.LedgerOptions{CustodyTimeout: cfg.CustodyCallTimeout}, logger)
}

// restoreSettings applies a backend rotation persisted by a previous run before anything
// starts serving.
func restoreSettings(lc fx.Lifecycle, ledger services.SubscriptionLedger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ledger.RestoreSettings(ctx)
		},
	})
}
