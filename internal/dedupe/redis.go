// ABOUTME: Redis-backed Deduper shared by every gateway process
// ABOUTME: SETNX with expiry records a key, DEL releases it after a failed request

package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces idempotency keys inside a shared Redis database.
const keyPrefix = "taskboard:idem:"

// Redis stores idempotency keys in Redis so a retry that lands on another
// process is still recognised.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis creates a deduper using the provided client and TTL.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) key(scope, key string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, scope, key)
}

// Add implements Deduper.
func (r *Redis) Add(ctx context.Context, scope, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(scope, key), 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("recording idempotency key: %w", err)
	}
	return ok, nil
}

// Remove implements Deduper.
func (r *Redis) Remove(ctx context.Context, scope, key string) error {
	if err := r.client.Del(ctx, r.key(scope, key)).Err(); err != nil {
		return fmt.Errorf("releasing idempotency key: %w", err)
	}
	return nil
}

// Compile-time check that Redis implements Deduper
var _ Deduper = (*Redis)(nil)
