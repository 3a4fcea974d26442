package utils

import (
	"sync"
	"time"
)

const (
	SecondsPerDay int64 = 24 * 60 * 60

	// MonthSeconds is the fixed 30-day billing month.
	MonthSeconds = 30 * SecondsPerDay
	YearSeconds  = 365 * SecondsPerDay
)

// Clock supplies the single reference "now" used by ledger transitions.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock only moves when told to. Used by tests and the sandbox deployment.
type ManualClock struct {
	mu  sync.RWMutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (m *ManualClock) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

func (m *ManualClock) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

func (m *ManualClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Use explicit "seconds" variant for DB storage
func NowUnixSeconds(c Clock) int64 { return c.Now().Unix() }

// Returns zero time if t<=0 to let callers decide how to render.
func FromUnixSeconds(t int64) time.Time {
	if t <= 0 {
		return time.Time{}
	}
	return time.Unix(t, 0).UTC()
}

func FormatRFC3339(t int64) string {
	if t <= 0 {
		return ""
	}
	return FromUnixSeconds(t).Format(time.RFC3339)
}
