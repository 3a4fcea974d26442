package mem

import (
	"sync"
	"time"
)

// CachedResponse is a completed response kept for replay.
type CachedResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

type IdempotencyStore interface {
	// Begin claims key. It returns the stored response if one exists, or inFlight when
	// another request holds the claim.
	Begin(key string, ttl time.Duration) (cached *CachedResponse, inFlight bool)
	// Finish stores the response for key until ttl elapses.
	Finish(key string, resp CachedResponse, ttl time.Duration)
	// Abort drops the claim so the request may be retried.
	Abort(key string)
}

type entry struct {
	resp      *CachedResponse
	expiresAt time.Time
}

type IdempotencyKeys struct {
	mu   sync.Mutex
	data map[string]entry
	now  func() time.Time
}

func NewIdempotencyKeys() *IdempotencyKeys {
	return &IdempotencyKeys{
		data: make(map[string]entry),
		now:  time.Now,
	}
}

func (s *IdempotencyKeys) Begin(key string, ttl time.Duration) (*CachedResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)
	if e, ok := s.data[key]; ok {
		if e.resp == nil {
			return nil, true
		}
		resp := *e.resp
		return &resp, false
	}
	s.data[key] = entry{expiresAt: now.Add(ttl)}
	return nil, false
}

func (s *IdempotencyKeys) Finish(key string, resp CachedResponse, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = entry{
		resp:      &resp,
		expiresAt: s.now().Add(ttl),
	}
}

func (s *IdempotencyKeys) Abort(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

func (s *IdempotencyKeys) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// sweep drops expired entries; callers hold mu.
func (s *IdempotencyKeys) sweep(now time.Time) {
	for k, e := range s.data {
		if now.After(e.expiresAt) {
			delete(s.data, k)
		}
	}
}
