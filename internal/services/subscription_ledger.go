package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"subyield/internal/custody"
	"subyield/internal/models/db_models"
	"subyield/internal/repositories"
	"subyield/pkg/utils"
)

// SubscriptionLedger is the authority over every (subscriber, plan) record and the funds
// tied to it. Each transition either fully commits, custody included, or leaves nothing.
type SubscriptionLedger interface {
	SubscribeMonthly(ctx context.Context, caller string, planID uint64, stakeYearly, autoPay bool) (*db_models.Subscription, error)
	SubscribeYearly(ctx context.Context, caller string, planID uint64) (*db_models.Subscription, error)
	ProcessMonthlyPayment(ctx context.Context, caller, subscriber string, planID uint64) (ChargeResult, error)
	CheckAndUpdateExpiration(ctx context.Context, caller, subscriber string, planID uint64) (SettlementResult, error)
	CancelSubscription(ctx context.Context, caller string, planID uint64) (SettlementResult, error)
	SetAutoPay(ctx context.Context, caller string, planID uint64, enabled bool) (*db_models.Subscription, error)

	NeedsPayment(ctx context.Context, subscriber string, planID uint64) (bool, error)
	GetSubscription(ctx context.Context, subscriber string, planID uint64) (*db_models.Subscription, error)
	ListActiveSubscriptions(ctx context.Context, subscriber string) ([]db_models.Subscription, error)
	ListSubscriptions(ctx context.Context, subscriber string) ([]db_models.Subscription, error)

	Pause(ctx context.Context, caller string) error
	Unpause(ctx context.Context, caller string) error
	Paused(ctx context.Context) (bool, error)
	RotateBackend(ctx context.Context, caller, backend string) error
	// RestoreSettings loads a persisted backend rotation into the authority.
	RestoreSettings(ctx context.Context) error

	EventsSince(ctx context.Context, afterID uint64, limit int) ([]db_models.LedgerEvent, error)
	Ping(ctx context.Context) error
}

type ChargeResult struct {
	Charged        bool
	Amount         int64
	ExpirationTime int64
}

type SettlementResult struct {
	Status    db_models.SubscriptionStatus
	Changed   bool
	Payout    int64
	Yield     int64
	Shortfall int64
}

type LedgerOptions struct {
	CustodyTimeout time.Duration
	// DueWindow is how long before expiration a recurring charge becomes payable.
	DueWindow time.Duration
}

func NewSubscriptionLedger(
	repo repositories.LedgerRepository,
	plans PlanServiceInterface,
	authority Authority,
	token custody.PaymentToken,
	vault custody.YieldVault,
	clock utils.Clock,
	opts LedgerOptions,
	logger *zap.Logger,
) SubscriptionLedger {
	dueWindow := int64(opts.DueWindow / time.Second)
	if dueWindow <= 0 {
		dueWindow = utils.SecondsPerDay
	}
	c := newCustodian(token, vault, opts.CustodyTimeout)
	return &subscriptionLedger{
		repo:      repo,
		plans:     plans,
		authority: authority,
		custody:   c,
		clock:     clock,
		dueWindow: dueWindow,
		logger:    logger.Named("ledger"),
	}
}

type subscriptionLedger struct {
	repo      repositories.LedgerRepository
	plans     PlanServiceInterface
	authority Authority
	custody   *custodian
	clock     utils.Clock
	dueWindow int64
	logger    *zap.Logger
}

func (l *subscriptionLedger) SubscribeMonthly(ctx context.Context, caller string, planID uint64, stakeYearly, autoPay bool) (*db_models.Subscription, error) {
	return l.subscribe(ctx, caller, planID, db_models.SubTypeMonthly, stakeYearly, autoPay)
}

// SubscribeYearly always stakes the yearly payment and never renews.
func (l *subscriptionLedger) SubscribeYearly(ctx context.Context, caller string, planID uint64) (*db_models.Subscription, error) {
	return l.subscribe(ctx, caller, planID, db_models.SubTypeYearly, true, false)
}

func (l *subscriptionLedger) subscribe(ctx context.Context, caller string, planID uint64, subType db_models.SubscriptionType, stake, autoPay bool) (*db_models.Subscription, error) {
	subscriber, err := utils.NormalizeAddress(caller)
	if err != nil {
		return nil, err
	}
	if err := l.ensureNotPaused(ctx); err != nil {
		return nil, err
	}

	now := utils.NowUnixSeconds(l.clock)
	undo := &undoLog{}
	var created db_models.Subscription

	err = l.repo.WithinTransaction(ctx, func(tx repositories.LedgerTx) error {
		existing, err := tx.LockSubscription(subscriber, planID)
		if err != nil {
			return err
		}
		if existing != nil && !existing.Status.Terminal() {
			return fmt.Errorf("%w: %s already holds an active subscription to plan %d", utils.ErrInvalidState, subscriber, planID)
		}

		// The plan row is only locked after custody, to bump its counters.
		plan, err := l.repo.GetPlan(ctx, planID)
		if err != nil {
			return err
		}
		if plan == nil {
			return utils.ErrPlanNotFound
		}
		if !plan.IsActive {
			return utils.ErrPlanInactive
		}

		sub := db_models.Subscription{
			Subscriber:     subscriber,
			PlanID:         planID,
			SubType:        subType,
			Status:         db_models.SubStatusActive,
			MonthlyRate:    plan.MonthlyRate,
			YearlyRate:     plan.YearlyRate,
			StartTime:      now,
			LastPayment:    now,
			AutoPayEnabled: autoPay,
		}

		charge := plan.MonthlyRate
		sub.ExpirationTime = now + utils.MonthSeconds
		if subType == db_models.SubTypeYearly {
			sub.ExpirationTime = now + utils.YearSeconds
		}
		if stake {
			charge = plan.YearlyRate
		}

		if err := l.custody.pull(ctx, undo, subscriber, charge); err != nil {
			return err
		}
		if stake {
			shares, err := l.custody.stake(ctx, undo, charge)
			if err != nil {
				return err
			}
			sub.StakedAmount = charge
			sub.VaultShares = shares
		}
		if err := sub.Validate(); err != nil {
			return fmt.Errorf("%w: %v", utils.ErrVaultFailure, err)
		}

		if existing == nil {
			err = tx.InsertSubscription(&sub)
		} else {
			sub.CreatedAt = existing.CreatedAt
			err = tx.UpdateSubscription(&sub)
		}
		if err != nil {
			return err
		}

		locked, err := tx.LockPlan(planID)
		if err != nil {
			return err
		}
		if locked == nil || !locked.IsActive {
			return utils.ErrPlanInactive
		}
		locked.SubscriberCount++
		locked.TotalRevenue += charge
		if err := tx.SavePlan(locked); err != nil {
			return err
		}

		created = sub
		return tx.AppendEvent(&db_models.LedgerEvent{
			Kind:       db_models.EventSubscriptionCreated,
			Subscriber: subscriber,
			PlanID:     planID,
			SubType:    subType,
			Amount:     charge,
			Timestamp:  now,
			Metadata: jsonMeta(map[string]any{
				"auto_pay":        autoPay,
				"staked_amount":   sub.StakedAmount,
				"vault_shares":    sub.VaultShares,
				"expiration_time": sub.ExpirationTime,
			}),
		})
	})
	if err != nil {
		l.abort(ctx, undo, "subscribe", subscriber, planID, err)
		return nil, err
	}

	l.plans.Invalidate(planID)
	l.logger.Info("subscription created",
		zap.String("subscriber", subscriber),
		zap.Uint64("plan_id", planID),
		zap.String("type", string(subType)),
		zap.Int64("staked", created.StakedAmount),
		zap.Int64("expiration", created.ExpirationTime))
	return &created, nil
}

// ProcessMonthlyPayment charges one recurring month. Calls that find nothing to charge
// return Charged=false without error so the scheduler may retry freely.
func (l *subscriptionLedger) ProcessMonthlyPayment(ctx context.Context, caller, subscriber string, planID uint64) (ChargeResult, error) {
	if err := l.authority.AuthorizeBackend(ctx, caller); err != nil {
		return ChargeResult{}, err
	}
	subscriber, err := utils.NormalizeAddress(subscriber)
	if err != nil {
		return ChargeResult{}, err
	}
	paused, err := l.Paused(ctx)
	if err != nil {
		return ChargeResult{}, err
	}

	now := utils.NowUnixSeconds(l.clock)
	undo := &undoLog{}
	var result ChargeResult

	err = l.repo.WithinTransaction(ctx, func(tx repositories.LedgerTx) error {
		sub, err := tx.LockSubscription(subscriber, planID)
		if err != nil {
			return err
		}
		if sub == nil || !l.chargeable(sub, now) {
			if sub != nil {
				result.ExpirationTime = sub.ExpirationTime
			}
			return nil
		}
		if paused {
			return utils.ErrLedgerPaused
		}

		if err := l.custody.pull(ctx, undo, subscriber, sub.MonthlyRate); err != nil {
			return err
		}
		sub.ExpirationTime += utils.MonthSeconds
		sub.LastPayment = now
		if err := tx.UpdateSubscription(sub); err != nil {
			return err
		}

		plan, err := tx.LockPlan(planID)
		if err != nil {
			return err
		}
		if plan != nil {
			plan.TotalRevenue += sub.MonthlyRate
			if err := tx.SavePlan(plan); err != nil {
				return err
			}
		}

		result = ChargeResult{Charged: true, Amount: sub.MonthlyRate, ExpirationTime: sub.ExpirationTime}
		return tx.AppendEvent(&db_models.LedgerEvent{
			Kind:       db_models.EventMonthlyPaymentProcessed,
			Subscriber: subscriber,
			PlanID:     planID,
			SubType:    sub.SubType,
			Amount:     sub.MonthlyRate,
			Timestamp:  now,
			Metadata:   jsonMeta(map[string]any{"expiration_time": sub.ExpirationTime}),
		})
	})
	if err != nil {
		l.abort(ctx, undo, "monthly payment", subscriber, planID, err)
		return ChargeResult{}, err
	}

	if result.Charged {
		l.plans.Invalidate(planID)
		l.logger.Info("monthly payment processed",
			zap.String("subscriber", subscriber),
			zap.Uint64("plan_id", planID),
			zap.Int64("amount", result.Amount),
			zap.Int64("expiration", result.ExpirationTime))
	}
	return result, nil
}

// CheckAndUpdateExpiration settles a subscription whose paid period has fully elapsed.
// Principal and all yield go to the subscriber.
func (l *subscriptionLedger) CheckAndUpdateExpiration(ctx context.Context, caller, subscriber string, planID uint64) (SettlementResult, error) {
	if err := l.authority.AuthorizeExpiry(ctx, caller); err != nil {
		return SettlementResult{}, err
	}
	subscriber, err := utils.NormalizeAddress(subscriber)
	if err != nil {
		return SettlementResult{}, err
	}
	now := utils.NowUnixSeconds(l.clock)

	return l.settle(ctx, subscriber, planID, now, db_models.SubStatusExpired, func(sub *db_models.Subscription) (bool, error) {
		return sub.Status == db_models.SubStatusActive && sub.Expired(now), nil
	})
}

// CancelSubscription ends the caller's subscription now. Staked principal is returned;
// yield earned on it is forfeited to the treasury.
func (l *subscriptionLedger) CancelSubscription(ctx context.Context, caller string, planID uint64) (SettlementResult, error) {
	subscriber, err := utils.NormalizeAddress(caller)
	if err != nil {
		return SettlementResult{}, err
	}
	now := utils.NowUnixSeconds(l.clock)

	return l.settle(ctx, subscriber, planID, now, db_models.SubStatusCancelled, func(sub *db_models.Subscription) (bool, error) {
		if sub.Status != db_models.SubStatusActive {
			return false, fmt.Errorf("%w: subscription %s/%d is %s", utils.ErrInvalidState, subscriber, planID, sub.Status)
		}
		return true, nil
	})
}

// settle moves an ACTIVE subscription to a terminal status and releases its stake.
// applies decides whether the transition happens; returning false is a no-op.
func (l *subscriptionLedger) settle(
	ctx context.Context,
	subscriber string,
	planID uint64,
	now int64,
	target db_models.SubscriptionStatus,
	applies func(sub *db_models.Subscription) (bool, error),
) (SettlementResult, error) {
	undo := &undoLog{}
	var (
		result   SettlementResult
		deferred error
	)

	err := l.repo.WithinTransaction(ctx, func(tx repositories.LedgerTx) error {
		sub, err := tx.LockSubscription(subscriber, planID)
		if err != nil {
			return err
		}
		if sub == nil {
			if target == db_models.SubStatusCancelled {
				return fmt.Errorf("%w: %s has no subscription to plan %d", utils.ErrInvalidState, subscriber, planID)
			}
			result.Status = db_models.SubStatusNone
			return nil
		}
		result.Status = sub.Status

		ok, err := applies(sub)
		if err != nil || !ok {
			return err
		}

		s, err := l.custody.release(ctx, undo, subscriber, sub.StakedAmount, sub.VaultShares, target == db_models.SubStatusCancelled)
		if err != nil {
			if s.restaked == 0 {
				return err
			}
			// Proceeds went back into the vault under new shares; persist them and
			// report the payout failure after commit.
			sub.VaultShares = s.restaked
			deferred = err
			return tx.UpdateSubscription(sub)
		}

		principal := sub.StakedAmount
		sub.Status = target
		sub.StakedAmount = 0
		sub.VaultShares = 0
		sub.AutoPayEnabled = false
		if err := tx.UpdateSubscription(sub); err != nil {
			return err
		}

		kind := db_models.EventSubscriptionExpired
		if target == db_models.SubStatusCancelled {
			kind = db_models.EventSubscriptionCancelled
		}
		result = SettlementResult{
			Status:    target,
			Changed:   true,
			Payout:    s.payout,
			Yield:     s.yield,
			Shortfall: s.shortfall,
		}
		return tx.AppendEvent(&db_models.LedgerEvent{
			Kind:       kind,
			Subscriber: subscriber,
			PlanID:     planID,
			SubType:    sub.SubType,
			Amount:     s.payout,
			Yield:      s.yield,
			Shortfall:  s.shortfall,
			Timestamp:  now,
			Metadata: jsonMeta(map[string]any{
				"principal":       principal,
				"yield_forfeited": target == db_models.SubStatusCancelled && s.yield > 0,
				"expiration_time": sub.ExpirationTime,
			}),
		})
	})
	if err != nil {
		l.abort(ctx, undo, string(target), subscriber, planID, err)
		return SettlementResult{}, err
	}
	if deferred != nil {
		l.logger.Error("payout failed, stake restored",
			zap.String("subscriber", subscriber),
			zap.Uint64("plan_id", planID),
			zap.Error(deferred))
		return SettlementResult{}, deferred
	}

	if result.Changed {
		l.logger.Info("subscription settled",
			zap.String("subscriber", subscriber),
			zap.Uint64("plan_id", planID),
			zap.String("status", string(result.Status)),
			zap.Int64("payout", result.Payout),
			zap.Int64("yield", result.Yield),
			zap.Int64("shortfall", result.Shortfall))
	}
	return result, nil
}

func (l *subscriptionLedger) SetAutoPay(ctx context.Context, caller string, planID uint64, enabled bool) (*db_models.Subscription, error) {
	subscriber, err := utils.NormalizeAddress(caller)
	if err != nil {
		return nil, err
	}
	now := utils.NowUnixSeconds(l.clock)
	var updated db_models.Subscription

	err = l.repo.WithinTransaction(ctx, func(tx repositories.LedgerTx) error {
		sub, err := tx.LockSubscription(subscriber, planID)
		if err != nil {
			return err
		}
		if sub == nil || sub.Status != db_models.SubStatusActive || sub.SubType != db_models.SubTypeMonthly {
			return fmt.Errorf("%w: auto-pay applies to active monthly subscriptions only", utils.ErrInvalidState)
		}
		sub.AutoPayEnabled = enabled
		if err := tx.UpdateSubscription(sub); err != nil {
			return err
		}
		updated = *sub
		return tx.AppendEvent(&db_models.LedgerEvent{
			Kind:       db_models.EventAutoPayUpdated,
			Subscriber: subscriber,
			PlanID:     planID,
			SubType:    sub.SubType,
			Timestamp:  now,
			Metadata:   jsonMeta(map[string]any{"enabled": enabled}),
		})
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (l *subscriptionLedger) NeedsPayment(ctx context.Context, subscriber string, planID uint64) (bool, error) {
	sub, err := l.repo.GetSubscription(ctx, subscriber, planID)
	if err != nil {
		return false, err
	}
	if sub == nil {
		return false, nil
	}
	return l.chargeable(sub, utils.NowUnixSeconds(l.clock)), nil
}

// chargeable holds for active auto-pay monthly subscriptions inside the due window whose
// next paid period would still reach past now. A subscription left unpaid for a whole
// month is expired rather than billed for time already gone.
func (l *subscriptionLedger) chargeable(sub *db_models.Subscription, now int64) bool {
	return sub.Status == db_models.SubStatusActive &&
		sub.SubType == db_models.SubTypeMonthly &&
		sub.AutoPayEnabled &&
		sub.PaymentDue(now, l.dueWindow) &&
		sub.ExpirationTime+utils.MonthSeconds >= now
}

func (l *subscriptionLedger) GetSubscription(ctx context.Context, subscriber string, planID uint64) (*db_models.Subscription, error) {
	sub, err := l.repo.GetSubscription(ctx, subscriber, planID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, utils.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (l *subscriptionLedger) ListActiveSubscriptions(ctx context.Context, subscriber string) ([]db_models.Subscription, error) {
	return l.repo.ListSubscriptions(ctx, subscriber, db_models.SubStatusActive)
}

func (l *subscriptionLedger) ListSubscriptions(ctx context.Context, subscriber string) ([]db_models.Subscription, error) {
	return l.repo.ListSubscriptions(ctx, subscriber, "")
}

func (l *subscriptionLedger) Pause(ctx context.Context, caller string) error {
	return l.setPaused(ctx, caller, true)
}

func (l *subscriptionLedger) Unpause(ctx context.Context, caller string) error {
	return l.setPaused(ctx, caller, false)
}

func (l *subscriptionLedger) setPaused(ctx context.Context, caller string, paused bool) error {
	if err := l.authority.AuthorizeAdmin(ctx, caller); err != nil {
		return err
	}
	kind := db_models.EventLedgerUnpaused
	if paused {
		kind = db_models.EventLedgerPaused
	}
	err := l.repo.WithinTransaction(ctx, func(tx repositories.LedgerTx) error {
		settings, err := tx.LockSettings()
		if err != nil {
			return err
		}
		if settings.Paused == paused {
			return nil
		}
		settings.Paused = paused
		if err := tx.SaveSettings(settings); err != nil {
			return err
		}
		return tx.AppendEvent(&db_models.LedgerEvent{
			Kind:       kind,
			Subscriber: caller,
			Timestamp:  utils.NowUnixSeconds(l.clock),
		})
	})
	if err != nil {
		return err
	}
	l.logger.Warn("ledger pause state changed", zap.Bool("paused", paused))
	return nil
}

func (l *subscriptionLedger) Paused(ctx context.Context) (bool, error) {
	settings, err := l.repo.GetSettings(ctx)
	if err != nil {
		return false, err
	}
	return settings != nil && settings.Paused, nil
}

func (l *subscriptionLedger) ensureNotPaused(ctx context.Context) error {
	paused, err := l.Paused(ctx)
	if err != nil {
		return err
	}
	if paused {
		return utils.ErrLedgerPaused
	}
	return nil
}

func (l *subscriptionLedger) RotateBackend(ctx context.Context, caller, backend string) error {
	if err := l.authority.AuthorizeAdmin(ctx, caller); err != nil {
		return err
	}
	addr, err := utils.NormalizeAddress(backend)
	if err != nil {
		return err
	}
	previous := l.authority.Backend()

	err = l.repo.WithinTransaction(ctx, func(tx repositories.LedgerTx) error {
		settings, err := tx.LockSettings()
		if err != nil {
			return err
		}
		settings.BackendIdentity = addr
		if err := tx.SaveSettings(settings); err != nil {
			return err
		}
		return tx.AppendEvent(&db_models.LedgerEvent{
			Kind:       db_models.EventBackendRotated,
			Subscriber: addr,
			Timestamp:  utils.NowUnixSeconds(l.clock),
			Metadata:   jsonMeta(map[string]any{"previous": previous}),
		})
	})
	if err != nil {
		return err
	}
	if err := l.authority.RotateBackend(addr); err != nil {
		return err
	}
	l.logger.Warn("backend identity rotated", zap.String("previous", previous), zap.String("backend", addr))
	return nil
}

func (l *subscriptionLedger) RestoreSettings(ctx context.Context) error {
	settings, err := l.repo.GetSettings(ctx)
	if err != nil {
		return err
	}
	if settings == nil || settings.BackendIdentity == "" {
		return nil
	}
	if err := l.authority.RotateBackend(settings.BackendIdentity); err != nil {
		return fmt.Errorf("restore backend identity: %w", err)
	}
	l.logger.Info("restored persisted backend identity", zap.String("backend", settings.BackendIdentity))
	return nil
}

func (l *subscriptionLedger) EventsSince(ctx context.Context, afterID uint64, limit int) ([]db_models.LedgerEvent, error) {
	return l.repo.EventsSince(ctx, afterID, limit)
}

func (l *subscriptionLedger) Ping(ctx context.Context) error {
	return l.repo.Ping(ctx)
}

// abort unwinds custody steps of a transition that did not commit.
func (l *subscriptionLedger) abort(ctx context.Context, undo *undoLog, op, subscriber string, planID uint64, cause error) {
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("subscriber", subscriber),
		zap.Uint64("plan_id", planID),
		zap.Error(cause),
	}
	if undo.len() == 0 {
		if !isClientError(cause) {
			l.logger.Warn("transition rejected", fields...)
		}
		return
	}
	l.logger.Warn("transition rolled back, compensating custody", append(fields, zap.Int("steps", undo.len()))...)
	undo.unwind(ctx, l.custody.timeout, l.logger)
}

func isClientError(err error) bool {
	return errors.Is(err, utils.ErrInvalidState) ||
		errors.Is(err, utils.ErrInvalidPlan) ||
		errors.Is(err, utils.ErrUnauthorized) ||
		errors.Is(err, utils.ErrInsufficientFunds) ||
		errors.Is(err, utils.ErrLedgerPaused)
}
