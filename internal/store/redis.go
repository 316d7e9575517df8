// redis.go -- go-redis backed ledger of consumed OAuth states.
//
// Each accepted callback state is recorded with SET NX and a TTL equal to the
// state cookie lifetime, so a replayed callback finds the key and is rejected.
// Shared across instances, unlike MemoryStateLedger.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// stateKey derives the ledger key from a state value. Only the hash is stored.
func stateKey(state string) string {
	sum := sha256.Sum256([]byte(state))
	return "oauth_state_used:" + base64.RawURLEncoding.EncodeToString(sum[:])
}

// RedisStateLedger wraps a Redis client for consumed-state tracking.
type RedisStateLedger struct {
	rdb *redis.Client
}

// NewRedisStateLedger connects to Redis and returns a ready-to-use ledger.
// It pings Redis to verify connectivity before returning.
func NewRedisStateLedger(ctx context.Context, redisURL string) (*RedisStateLedger, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}

	return &RedisStateLedger{rdb}, nil
}

// Close shuts down the Redis client and releases all resources.
func (l *RedisStateLedger) Close() error {
	return l.rdb.Close()
}

// CheckHealth pings Redis.
func (l *RedisStateLedger) CheckHealth(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

// Consume records state as used for ttl.
// Returns true the first time a state is seen, false on every replay within ttl.
func (l *RedisStateLedger) Consume(ctx context.Context, state string, ttl time.Duration) (bool, error) {
	first, err := l.rdb.SetNX(ctx, stateKey(state), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("recording consumed state: %w", err)
	}
	return first, nil
}
