package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/chat-gateway/internal/domain"
)

const (
	balancePrefix     = "balance:"
	defaultBalanceTTL = 5 * time.Minute
)

// BalanceCache keeps the last known credit balance of each user in Redis.
// Misses and refreshes are served by the backend.
type BalanceCache struct {
	client *Client
	source domain.BalanceSource
	ttl    time.Duration
}

// NewBalanceCache creates a new balance cache
func NewBalanceCache(client *Client, source domain.BalanceSource, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = defaultBalanceTTL
	}
	return &BalanceCache{client: client, source: source, ttl: ttl}
}

// Get returns the cached balance, loading it from the source on a miss
func (c *BalanceCache) Get(ctx context.Context, userID string) (*float64, error) {
	raw, err := c.client.rdb.Get(ctx, balanceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return c.Refresh(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}

	balance, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		// unreadable entries are replaced by a fresh read
		return c.Refresh(ctx, userID)
	}
	return &balance, nil
}

// Refresh reads the balance from the source and stores it
func (c *BalanceCache) Refresh(ctx context.Context, userID string) (*float64, error) {
	balance, err := c.source.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balance: %w", err)
	}

	value := strconv.FormatFloat(balance, 'f', -1, 64)
	if err := c.client.rdb.Set(ctx, balanceKey(userID), value, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to cache balance")
	}
	return &balance, nil
}

// Invalidate drops the cached balance of a user
func (c *BalanceCache) Invalidate(ctx context.Context, userID string) error {
	return c.client.rdb.Del(ctx, balanceKey(userID)).Err()
}

func balanceKey(userID string) string {
	return balancePrefix + userID
}
