package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis used by RedisWorkingSet.
type RedisClient interface {
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	SCard(ctx context.Context, key string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

// RedisWorkingSet keeps the tracked keys in a Redis SET and the replay cursor in a plain
// key. Both are written in one MULTI so a restart resumes from a consistent point.
type RedisWorkingSet struct {
	client    RedisClient
	setKey    string
	cursorKey string
}

func NewRedisWorkingSet(client RedisClient, prefix string) *RedisWorkingSet {
	if prefix == "" {
		prefix = "subyield:scheduler:"
	}
	return &RedisWorkingSet{
		client:    client,
		setKey:    prefix + "tracked",
		cursorKey: prefix + "cursor",
	}
}

func (r *RedisWorkingSet) Apply(ctx context.Context, batch Batch) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(batch.Add) > 0 {
			pipe.SAdd(ctx, r.setKey, keyMembers(batch.Add)...)
		}
		if len(batch.Remove) > 0 {
			pipe.SRem(ctx, r.setKey, keyMembers(batch.Remove)...)
		}
		pipe.Set(ctx, r.cursorKey, strconv.FormatUint(batch.Cursor, 10), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("working set apply: %w", err)
	}
	return nil
}

func (r *RedisWorkingSet) Add(ctx context.Context, key SubscriptionKey) error {
	return r.client.SAdd(ctx, r.setKey, key.String()).Err()
}

func (r *RedisWorkingSet) Remove(ctx context.Context, key SubscriptionKey) error {
	return r.client.SRem(ctx, r.setKey, key.String()).Err()
}

// Members skips entries that no longer parse instead of failing the whole tick.
func (r *RedisWorkingSet) Members(ctx context.Context) ([]SubscriptionKey, error) {
	raw, err := r.client.SMembers(ctx, r.setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("working set members: %w", err)
	}
	out := make([]SubscriptionKey, 0, len(raw))
	for _, s := range raw {
		k, err := ParseSubscriptionKey(s)
		if err != nil {
			continue
		}
		out = append(out, k)
	}
	sortKeys(out)
	return out, nil
}

func (r *RedisWorkingSet) Len(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, r.setKey).Result()
	return int(n), err
}

func (r *RedisWorkingSet) Cursor(ctx context.Context) (uint64, error) {
	v, err := r.client.Get(ctx, r.cursorKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("working set cursor: %w", err)
	}
	return strconv.ParseUint(v, 10, 64)
}

func keyMembers(keys []SubscriptionKey) []interface{} {
	out := make([]interface{}, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

var _ WorkingSet = (*RedisWorkingSet)(nil)
