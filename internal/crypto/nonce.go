package crypto

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// DefaultNonceCacheSize bounds the in-process nonce cache.
const DefaultNonceCacheSize = 1 << 20

// NonceCache is the single-process domain.NonceStore. Each entry keeps the
// expiry of its Claim; the LRU drops entries after maxTTL or, past size,
// oldest first.
type NonceCache struct {
	mu   sync.Mutex
	now  func() time.Time
	seen *expirable.LRU[string, time.Time]
}

// NewNonceCache creates a NonceCache holding up to size nonces (0 for
// DefaultNonceCacheSize) for at most maxTTL.
func NewNonceCache(size int, maxTTL time.Duration) *NonceCache {
	if size <= 0 {
		size = DefaultNonceCacheSize
	}
	return &NonceCache{
		now:  time.Now,
		seen: expirable.NewLRU[string, time.Time](size, nil, maxTTL),
	}
}

// Claim records key until ttl elapses and reports whether it was unseen.
func (c *NonceCache) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if until, ok := c.seen.Get(key); ok && now.Before(until) {
		return false, nil
	}
	c.seen.Add(key, now.Add(ttl))
	return true, nil
}

var _ domain.NonceStore = (*NonceCache)(nil)
