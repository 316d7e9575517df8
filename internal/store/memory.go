// memory.go -- in-process ledger of consumed OAuth states (ttlcache).
//
// Used when REDIS_URL is unset. Replay protection only holds within one
// process; behind several instances use RedisStateLedger.
package store

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStateLedger tracks consumed states in a TTL cache.
type MemoryStateLedger struct {
	cache *ttlcache.Cache[string, struct{}]
}

// NewMemoryStateLedger creates the ledger and starts its expiry loop.
// Call Close to stop the loop.
func NewMemoryStateLedger() *MemoryStateLedger {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go cache.Start()
	return &MemoryStateLedger{cache: cache}
}

// Close stops the expiry loop.
func (l *MemoryStateLedger) Close() error {
	l.cache.Stop()
	return nil
}

// CheckHealth always reports ErrLedgerDisabled so health output shows the
// ledger is process-local rather than backed by a shared service.
func (l *MemoryStateLedger) CheckHealth(_ context.Context) error {
	return ErrLedgerDisabled
}

// Consume records state as used for ttl.
// Returns true the first time a state is seen, false on every replay within ttl.
func (l *MemoryStateLedger) Consume(_ context.Context, state string, ttl time.Duration) (bool, error) {
	_, retrieved := l.cache.GetOrSet(stateKey(state), struct{}{}, ttlcache.WithTTL[string, struct{}](ttl))
	return !retrieved, nil
}
