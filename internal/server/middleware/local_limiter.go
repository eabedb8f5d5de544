package middleware

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// LocalLimiter is a per-process domain.RateLimiter for deployments without
// redis. Each key gets a token bucket refilled at limit per window.
type LocalLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    int
	window   time.Duration
}

// NewLocalLimiter creates a LocalLimiter whose Wait uses limit per window.
func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &LocalLimiter{limiters: make(map[string]*rate.Limiter), limit: limit, window: window}
}

func (l *LocalLimiter) get(key string, limit int, window time.Duration) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		l.limiters[key] = lim
	}
	return lim
}

// Allow reports whether one more request under key fits the budget.
func (l *LocalLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	return l.get(key, limit, window).Allow(), nil
}

// Wait blocks until key has budget under the default limit.
func (l *LocalLimiter) Wait(ctx context.Context, key string) error {
	return l.get(key, l.limit, l.window).Wait(ctx)
}

var _ domain.RateLimiter = (*LocalLimiter)(nil)
