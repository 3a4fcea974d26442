package repositories

import (
	"context"

	"subyield/internal/models/db_models"
)

// LedgerRepository owns every Plan, Subscription and LedgerEvent record.
// Reads return (nil, nil) when a record does not exist.
type LedgerRepository interface {
	// WithinTransaction runs fn atomically. Records locked through tx stay locked
	// until fn returns; any error rolls back every write made through tx.
	WithinTransaction(ctx context.Context, fn func(tx LedgerTx) error) error

	GetPlan(ctx context.Context, id uint64) (*db_models.Plan, error)
	ListPlans(ctx context.Context, activeOnly bool) ([]db_models.Plan, error)
	GetSubscription(ctx context.Context, subscriber string, planID uint64) (*db_models.Subscription, error)
	// ListSubscriptions filters by status unless status is empty.
	ListSubscriptions(ctx context.Context, subscriber string, status db_models.SubscriptionStatus) ([]db_models.Subscription, error)
	EventsSince(ctx context.Context, afterID uint64, limit int) ([]db_models.LedgerEvent, error)
	GetSettings(ctx context.Context) (*db_models.LedgerSetting, error)
	Ping(ctx context.Context) error
}

type LedgerTx interface {
	LockPlan(id uint64) (*db_models.Plan, error)
	// SavePlan inserts when plan.ID is zero and assigns the next id.
	SavePlan(plan *db_models.Plan) error

	LockSubscription(subscriber string, planID uint64) (*db_models.Subscription, error)
	// InsertSubscription fails with utils.ErrInvalidState if the key already exists.
	InsertSubscription(sub *db_models.Subscription) error
	UpdateSubscription(sub *db_models.Subscription) error

	AppendEvent(event *db_models.LedgerEvent) error

	LockSettings() (*db_models.LedgerSetting, error)
	SaveSettings(settings *db_models.LedgerSetting) error
}
