package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"subyield/internal/models/db_models"
	"subyield/pkg/utils"
)

// eventLogLockKey serialises event appends so ledger_events ids are assigned in commit order.
const eventLogLockKey = 7_301_554_120

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

type ledgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) WithinTransaction(ctx context.Context, fn func(tx LedgerTx) error) error {
	var fnErr error
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&gormLedgerTx{tx: tx})
		return fnErr
	})
	if err != nil && fnErr == nil {
		// begin or commit failed
		return dbError(err)
	}
	return err
}

func (r *ledgerRepository) GetPlan(ctx context.Context, id uint64) (*db_models.Plan, error) {
	var plan db_models.Plan
	err := r.db.WithContext(ctx).First(&plan, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, dbError(err)
	}
	return &plan, nil
}

func (r *ledgerRepository) ListPlans(ctx context.Context, activeOnly bool) ([]db_models.Plan, error) {
	var plans []db_models.Plan
	q := r.db.WithContext(ctx).Order("id ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	if err := q.Find(&plans).Error; err != nil {
		return nil, dbError(err)
	}
	return plans, nil
}

func (r *ledgerRepository) GetSubscription(ctx context.Context, subscriber string, planID uint64) (*db_models.Subscription, error) {
	var sub db_models.Subscription
	err := r.db.WithContext(ctx).
		Where("subscriber = ? AND plan_id = ?", subscriber, planID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, dbError(err)
	}
	return &sub, nil
}

func (r *ledgerRepository) ListSubscriptions(ctx context.Context, subscriber string, status db_models.SubscriptionStatus) ([]db_models.Subscription, error) {
	var subs []db_models.Subscription
	q := r.db.WithContext(ctx).Where("subscriber = ?", subscriber).Order("plan_id ASC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&subs).Error; err != nil {
		return nil, dbError(err)
	}
	return subs, nil
}

func (r *ledgerRepository) EventsSince(ctx context.Context, afterID uint64, limit int) ([]db_models.LedgerEvent, error) {
	var events []db_models.LedgerEvent
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, dbError(err)
	}
	return events, nil
}

func (r *ledgerRepository) GetSettings(ctx context.Context) (*db_models.LedgerSetting, error) {
	var s db_models.LedgerSetting
	err := r.db.WithContext(ctx).First(&s, "id = ?", db_models.LedgerSettingID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &db_models.LedgerSetting{ID: db_models.LedgerSettingID}, nil
		}
		return nil, dbError(err)
	}
	return &s, nil
}

func (r *ledgerRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return dbError(err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return dbError(err)
	}
	return nil
}

type gormLedgerTx struct {
	tx *gorm.DB
}

func (t *gormLedgerTx) forUpdate() *gorm.DB {
	return t.tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (t *gormLedgerTx) LockPlan(id uint64) (*db_models.Plan, error) {
	var plan db_models.Plan
	err := t.forUpdate().First(&plan, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, dbError(err)
	}
	return &plan, nil
}

func (t *gormLedgerTx) SavePlan(plan *db_models.Plan) error {
	if plan.ID == 0 {
		return dbError(t.tx.Create(plan).Error)
	}
	return dbError(t.tx.Save(plan).Error)
}

func (t *gormLedgerTx) LockSubscription(subscriber string, planID uint64) (*db_models.Subscription, error) {
	var sub db_models.Subscription
	err := t.forUpdate().
		Where("subscriber = ? AND plan_id = ?", subscriber, planID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, dbError(err)
	}
	return &sub, nil
}

func (t *gormLedgerTx) InsertSubscription(sub *db_models.Subscription) error {
	return dbError(t.tx.Create(sub).Error)
}

func (t *gormLedgerTx) UpdateSubscription(sub *db_models.Subscription) error {
	res := t.tx.Save(sub)
	if res.Error != nil {
		return dbError(res.Error)
	}
	return nil
}

func (t *gormLedgerTx) AppendEvent(event *db_models.LedgerEvent) error {
	if err := t.tx.Exec("SELECT pg_advisory_xact_lock(?)", eventLogLockKey).Error; err != nil {
		return dbError(err)
	}
	return dbError(t.tx.Create(event).Error)
}

func (t *gormLedgerTx) LockSettings() (*db_models.LedgerSetting, error) {
	var s db_models.LedgerSetting
	err := t.forUpdate().First(&s, "id = ?", db_models.LedgerSettingID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &db_models.LedgerSetting{ID: db_models.LedgerSettingID}, nil
		}
		return nil, dbError(err)
	}
	return &s, nil
}

func (t *gormLedgerTx) SaveSettings(settings *db_models.LedgerSetting) error {
	settings.ID = db_models.LedgerSettingID
	return dbError(t.tx.Save(settings).Error)
}

// dbError classifies driver errors: duplicate keys are a state conflict, everything
// else is an opaque database failure.
func dbError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", utils.ErrInvalidState, pgErr.Detail)
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return fmt.Errorf("%w: concurrent update (%s): %v", utils.ErrDatabaseError, pgErr.Code, err)
		}
	}
	return fmt.Errorf("%w: %v", utils.ErrDatabaseError, err)
}

// Migrate creates the ledger tables and the settings row.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&db_models.Plan{},
		&db_models.Subscription{},
		&db_models.LedgerEvent{},
		&db_models.LedgerSetting{},
	); err != nil {
		return err
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&db_models.LedgerSetting{ID: db_models.LedgerSettingID}).Error
}
