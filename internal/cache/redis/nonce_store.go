package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// NonceStore implements domain.NonceStore with SET NX, so a signed request
// replayed against any replica is rejected.
type NonceStore struct {
	rdb *redis.Client
}

func NewNonceStore(c *Client) *NonceStore {
	return &NonceStore{rdb: c.rdb}
}

func nonceKey(key string) string { return "escrow:nonce:" + key }

// Claim stores key for ttl and reports whether it was new.
func (s *NonceStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, nonceKey(key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim nonce: %w", err)
	}
	return ok, nil
}

var _ domain.NonceStore = (*NonceStore)(nil)
