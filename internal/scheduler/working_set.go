package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"subyield/pkg/utils"
)

// SubscriptionKey identifies one tracked (subscriber, plan) pair.
type SubscriptionKey struct {
	Subscriber string
	PlanID     uint64
}

// String renders the key as "<subscriber>-<planID>".
func (k SubscriptionKey) String() string {
	return k.Subscriber + "-" + strconv.FormatUint(k.PlanID, 10)
}

func ParseSubscriptionKey(s string) (SubscriptionKey, error) {
	i := strings.LastIndex(s, "-")
	if i <= 0 {
		return SubscriptionKey{}, fmt.Errorf("%w: malformed subscription key %q", utils.ErrInvalidRequest, s)
	}
	subscriber, err := utils.NormalizeAddress(s[:i])
	if err != nil {
		return SubscriptionKey{}, err
	}
	planID, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil {
		return SubscriptionKey{}, fmt.Errorf("%w: malformed plan id in %q", utils.ErrInvalidRequest, s)
	}
	return SubscriptionKey{Subscriber: subscriber, PlanID: planID}, nil
}

// Batch is the net effect of a run of ledger events, applied together with the cursor
// of the last event it covers.
type Batch struct {
	Add    []SubscriptionKey
	Remove []SubscriptionKey
	Cursor uint64
}

// WorkingSet is the scheduler's view of which subscriptions still need attention. It is a
// cache of the ledger event log and can always be rebuilt from cursor zero.
type WorkingSet interface {
	Apply(ctx context.Context, batch Batch) error
	Add(ctx context.Context, key SubscriptionKey) error
	Remove(ctx context.Context, key SubscriptionKey) error
	Members(ctx context.Context) ([]SubscriptionKey, error)
	Len(ctx context.Context) (int, error)
	Cursor(ctx context.Context) (uint64, error)
}

type MemoryWorkingSet struct {
	mu     sync.RWMutex
	keys   map[string]SubscriptionKey
	cursor uint64
}

func NewMemoryWorkingSet() *MemoryWorkingSet {
	return &MemoryWorkingSet{keys: make(map[string]SubscriptionKey)}
}

func (m *MemoryWorkingSet) Apply(ctx context.Context, batch Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range batch.Add {
		m.keys[k.String()] = k
	}
	for _, k := range batch.Remove {
		delete(m.keys, k.String())
	}
	m.cursor = batch.Cursor
	return nil
}

func (m *MemoryWorkingSet) Add(ctx context.Context, key SubscriptionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key.String()] = key
	return nil
}

func (m *MemoryWorkingSet) Remove(ctx context.Context, key SubscriptionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key.String())
	return nil
}

func (m *MemoryWorkingSet) Members(ctx context.Context) ([]SubscriptionKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SubscriptionKey, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, k)
	}
	sortKeys(out)
	return out, nil
}

func (m *MemoryWorkingSet) Len(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys), nil
}

func (m *MemoryWorkingSet) Cursor(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cursor, nil
}

func sortKeys(keys []SubscriptionKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
}

var _ WorkingSet = (*MemoryWorkingSet)(nil)
