package repositories

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"subyield/internal/models/db_models"
	"subyield/pkg/utils"
)

type subKey struct {
	subscriber string
	planID     uint64
}

func newSubKey(subscriber string, planID uint64) subKey {
	return subKey{subscriber: strings.ToLower(subscriber), planID: planID}
}

// memoryLedgerRepository keeps the ledger in process memory. Transactions lock the
// records they touch, much like row locks, and stage their writes; the shared maps are
// only write-locked for the moment a transaction commits.
type memoryLedgerRepository struct {
	mu         sync.RWMutex
	plans      map[uint64]db_models.Plan
	subs       map[subKey]db_models.Subscription
	events     []db_models.LedgerEvent
	settings   db_models.LedgerSetting
	nextPlanID uint64

	rows *rowLocks
}

func NewMemoryLedgerRepository() LedgerRepository {
	return &memoryLedgerRepository{
		plans:      make(map[uint64]db_models.Plan),
		subs:       make(map[subKey]db_models.Subscription),
		settings:   db_models.LedgerSetting{ID: db_models.LedgerSettingID},
		nextPlanID: 1,
		rows:       newRowLocks(),
	}
}

func (r *memoryLedgerRepository) WithinTransaction(ctx context.Context, fn func(tx LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryLedgerTx{
		ctx:   ctx,
		repo:  r,
		plans: make(map[uint64]db_models.Plan),
		subs:  make(map[subKey]db_models.Subscription),
		held:  make(map[string]struct{}),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range tx.plans {
		r.plans[id] = p
	}
	for k, s := range tx.subs {
		r.subs[k] = s
	}
	for _, e := range tx.events {
		// ids are 1-based, dense and follow commit order
		e.ID = uint64(len(r.events)) + 1
		r.events = append(r.events, e)
	}
	if tx.settings != nil {
		r.settings = *tx.settings
	}
	if tx.nextPlanID > r.nextPlanID {
		r.nextPlanID = tx.nextPlanID
	}
	return nil
}

func (r *memoryLedgerRepository) GetPlan(ctx context.Context, id uint64) (*db_models.Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plans[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *memoryLedgerRepository) ListPlans(ctx context.Context, activeOnly bool) ([]db_models.Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	plans := make([]db_models.Plan, 0, len(r.plans))
	for _, p := range r.plans {
		if activeOnly && !p.IsActive {
			continue
		}
		plans = append(plans, p)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].ID < plans[j].ID })
	return plans, nil
}

func (r *memoryLedgerRepository) GetSubscription(ctx context.Context, subscriber string, planID uint64) (*db_models.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[newSubKey(subscriber, planID)]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *memoryLedgerRepository) ListSubscriptions(ctx context.Context, subscriber string, status db_models.SubscriptionStatus) ([]db_models.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var subs []db_models.Subscription
	for k, s := range r.subs {
		if k.subscriber != strings.ToLower(subscriber) {
			continue
		}
		if status != "" && s.Status != status {
			continue
		}
		subs = append(subs, s)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].PlanID < subs[j].PlanID })
	return subs, nil
}

func (r *memoryLedgerRepository) EventsSince(ctx context.Context, afterID uint64, limit int) ([]db_models.LedgerEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if afterID >= uint64(len(r.events)) {
		return nil, nil
	}
	// ids are 1-based and dense
	out := r.events[afterID:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]db_models.LedgerEvent(nil), out...), nil
}

func (r *memoryLedgerRepository) GetSettings(ctx context.Context) (*db_models.LedgerSetting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.settings
	return &s, nil
}

func (r *memoryLedgerRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

const planSequenceLock = "plan-seq"

type memoryLedgerTx struct {
	ctx        context.Context
	repo       *memoryLedgerRepository
	plans      map[uint64]db_models.Plan
	subs       map[subKey]db_models.Subscription
	events     []db_models.LedgerEvent
	settings   *db_models.LedgerSetting
	nextPlanID uint64
	held       map[string]struct{}
}

// lock takes the named row lock once per transaction.
func (t *memoryLedgerTx) lock(key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	if err := t.repo.rows.lock(t.ctx, key); err != nil {
		return fmt.Errorf("%w: lock %s: %v", utils.ErrDatabaseError, key, err)
	}
	t.held[key] = struct{}{}
	return nil
}

func (t *memoryLedgerTx) release() {
	for key := range t.held {
		t.repo.rows.unlock(key)
	}
	t.held = nil
}

func planLockKey(id uint64) string {
	return fmt.Sprintf("plan:%d", id)
}

func subLockKey(k subKey) string {
	return fmt.Sprintf("sub:%s:%d", k.subscriber, k.planID)
}

func (t *memoryLedgerTx) LockPlan(id uint64) (*db_models.Plan, error) {
	if err := t.lock(planLockKey(id)); err != nil {
		return nil, err
	}
	if p, ok := t.plans[id]; ok {
		return &p, nil
	}
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	if p, ok := t.repo.plans[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (t *memoryLedgerTx) SavePlan(plan *db_models.Plan) error {
	if plan.ID == 0 {
		// inserts are serialised so an id handed out by a rolled back transaction is reused
		if err := t.lock(planSequenceLock); err != nil {
			return err
		}
		if t.nextPlanID == 0 {
			t.repo.mu.RLock()
			t.nextPlanID = t.repo.nextPlanID
			t.repo.mu.RUnlock()
		}
		plan.ID = t.nextPlanID
		t.nextPlanID++
	}
	if err := t.lock(planLockKey(plan.ID)); err != nil {
		return err
	}
	t.plans[plan.ID] = *plan
	return nil
}

func (t *memoryLedgerTx) LockSubscription(subscriber string, planID uint64) (*db_models.Subscription, error) {
	k := newSubKey(subscriber, planID)
	if err := t.lock(subLockKey(k)); err != nil {
		return nil, err
	}
	if s, ok := t.subs[k]; ok {
		return &s, nil
	}
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	if s, ok := t.repo.subs[k]; ok {
		return &s, nil
	}
	return nil, nil
}

func (t *memoryLedgerTx) InsertSubscription(sub *db_models.Subscription) error {
	existing, err := t.LockSubscription(sub.Subscriber, sub.PlanID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: subscription %s/%d already exists", utils.ErrInvalidState, sub.Subscriber, sub.PlanID)
	}
	t.subs[newSubKey(sub.Subscriber, sub.PlanID)] = *sub
	return nil
}

func (t *memoryLedgerTx) UpdateSubscription(sub *db_models.Subscription) error {
	existing, err := t.LockSubscription(sub.Subscriber, sub.PlanID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: subscription %s/%d does not exist", utils.ErrDatabaseError, sub.Subscriber, sub.PlanID)
	}
	t.subs[newSubKey(sub.Subscriber, sub.PlanID)] = *sub
	return nil
}

// AppendEvent stages the event; its id is assigned when the transaction commits.
func (t *memoryLedgerTx) AppendEvent(event *db_models.LedgerEvent) error {
	t.events = append(t.events, *event)
	return nil
}

func (t *memoryLedgerTx) LockSettings() (*db_models.LedgerSetting, error) {
	if err := t.lock("settings"); err != nil {
		return nil, err
	}
	if t.settings != nil {
		s := *t.settings
		return &s, nil
	}
	t.repo.mu.RLock()
	s := t.repo.settings
	t.repo.mu.RUnlock()
	return &s, nil
}

func (t *memoryLedgerTx) SaveSettings(settings *db_models.LedgerSetting) error {
	if err := t.lock("settings"); err != nil {
		return err
	}
	s := *settings
	s.ID = db_models.LedgerSettingID
	t.settings = &s
	return nil
}

// rowLocks hands out one lock per key. Entries are dropped once nobody holds or waits on them.
type rowLocks struct {
	mu    sync.Mutex
	locks map[string]*rowLock
}

type rowLock struct {
	ch   chan struct{}
	refs int
}

func newRowLocks() *rowLocks {
	return &rowLocks{locks: make(map[string]*rowLock)}
}

func (l *rowLocks) lock(ctx context.Context, key string) error {
	l.mu.Lock()
	rl, ok := l.locks[key]
	if !ok {
		rl = &rowLock{ch: make(chan struct{}, 1)}
		l.locks[key] = rl
	}
	rl.refs++
	l.mu.Unlock()

	select {
	case rl.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.drop(key, rl)
		return ctx.Err()
	}
}

func (l *rowLocks) unlock(key string) {
	l.mu.Lock()
	rl := l.locks[key]
	l.mu.Unlock()
	<-rl.ch
	l.drop(key, rl)
}

func (l *rowLocks) drop(key string, rl *rowLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rl.refs--
	if rl.refs == 0 {
		delete(l.locks, key)
	}
}
