package db_fx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"subyield/internal/config"
	"subyield/internal/infra"
	"subyield/internal/repositories"
)

var Module = fx.Provide(
	provideLedgerRepository)

func provideLedgerRepository(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (repositories.LedgerRepository, error) {
	if cfg.StorageDriver == config.StorageMemory {
		logger.Warn("using in-memory ledger storage; state is lost on restart")
		return repositories.NewMemoryLedgerRepository(), nil
	}

	db, err := infra.InitPostgresql(context.Background(), cfg.PostgresURL, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(func() {
		infra.ClosePostgresql(db, logger)
	}))
	return repositories.NewLedgerRepository(db), nil
}
