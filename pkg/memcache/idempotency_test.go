package mem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyKeys_ClaimFinishReplay(t *testing.T) {
	s := NewIdempotencyKeys()

	cached, inFlight := s.Begin("k", time.Minute)
	assert.Nil(t, cached)
	assert.False(t, inFlight)

	cached, inFlight = s.Begin("k", time.Minute)
	assert.Nil(t, cached)
	assert.True(t, inFlight)

	s.Finish("k", CachedResponse{Status: 200, ContentType: "application/json", Body: []byte(`{}`)}, time.Minute)
	cached, inFlight = s.Begin("k", time.Minute)
	require.NotNil(t, cached)
	assert.False(t, inFlight)
	assert.Equal(t, 200, cached.Status)
	assert.Equal(t, []byte(`{}`), cached.Body)
}

func TestIdempotencyKeys_AbortAndExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewIdempotencyKeys()
	s.now = func() time.Time { return now }

	s.Begin("a", time.Minute)
	s.Abort("a")
	_, inFlight := s.Begin("a", time.Minute)
	assert.False(t, inFlight)

	s.Finish("a", CachedResponse{Status: 201}, time.Minute)
	now = now.Add(2 * time.Minute)
	cached, inFlight := s.Begin("a", time.Minute)
	assert.Nil(t, cached)
	assert.False(t, inFlight)
	assert.Equal(t, 1, s.Len())
}
