package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Rrens/chat-gateway/internal/domain"
)

type balanceEntry struct {
	value     float64
	expiresAt time.Time
}

// BalanceCache keeps user balances in process memory with a TTL
type BalanceCache struct {
	source domain.BalanceSource
	ttl    time.Duration

	mu      sync.RWMutex
	entries map[string]balanceEntry
}

// NewBalanceCache creates a new in-memory balance cache
func NewBalanceCache(source domain.BalanceSource, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &BalanceCache{
		source:  source,
		ttl:     ttl,
		entries: make(map[string]balanceEntry),
	}
}

func (c *BalanceCache) Get(ctx context.Context, userID string) (*float64, error) {
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()

	if ok && time.Now().Before(entry.expiresAt) {
		v := entry.value
		return &v, nil
	}
	return c.Refresh(ctx, userID)
}

func (c *BalanceCache) Refresh(ctx context.Context, userID string) (*float64, error) {
	balance, err := c.source.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balance: %w", err)
	}

	c.mu.Lock()
	c.entries[userID] = balanceEntry{value: balance, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	return &balance, nil
}

// RateLimiter keeps one token bucket per key. Buckets refill at
// requestsPerMinute and hold up to requestsPerMinute+burst tokens.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter creates a new in-memory rate limiter
func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	return &RateLimiter{
		limit:    rate.Limit(float64(requestsPerMinute) / 60),
		burst:    requestsPerMinute + burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (r *RateLimiter) limiter(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[key] = l
	}
	return l
}

func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	l := r.limiter(key)
	now := time.Now()
	allowed := l.AllowN(now, 1)

	tokens := l.TokensAt(now)
	remaining := int(tokens)
	if remaining < 0 {
		remaining = 0
	}

	reset := now
	if tokens < 1 && r.limit > 0 {
		reset = now.Add(time.Duration((1 - tokens) / float64(r.limit) * float64(time.Second)))
	}
	return allowed, remaining, reset, nil
}
