package credit

import (
	"context"
	"math"

	"github.com/Rrens/chat-gateway/internal/domain"
	"github.com/rs/zerolog/log"
)

// Cache is a cached projection of user balances.
// Get returns nil when no balance is known.
type Cache interface {
	Get(ctx context.Context, userID string) (*float64, error)
	Refresh(ctx context.Context, userID string) (*float64, error)
}

// CanStart reports whether a streaming operation may begin with balance
func CanStart(balance *float64) bool {
	if balance == nil {
		return false
	}
	b := *balance
	if math.IsNaN(b) || math.IsInf(b, 0) {
		return false
	}
	return b > 0
}

// Gate guards streaming operations of one user on their credit balance
type Gate struct {
	cache  Cache
	userID string
}

// NewGate creates a gate for userID
func NewGate(cache Cache, userID string) *Gate {
	return &Gate{cache: cache, userID: userID}
}

// Check returns domain.ErrInsufficientCredits unless the cached balance allows a start
func (g *Gate) Check(ctx context.Context) error {
	balance, err := g.cache.Get(ctx, g.userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", g.userID).Msg("Failed to read balance")
		balance = nil
	}
	if !CanStart(balance) {
		return domain.ErrInsufficientCredits
	}
	return nil
}

// Refresh reloads the balance from its source. Failures are logged only.
func (g *Gate) Refresh(ctx context.Context) {
	balance, err := g.cache.Refresh(ctx, g.userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", g.userID).Msg("Failed to refresh balance")
		return
	}
	if balance != nil {
		log.Debug().Str("user_id", g.userID).Float64("credits", *balance).Msg("Balance refreshed")
	}
}

// Balance returns the cached balance, nil when unknown
func (g *Gate) Balance(ctx context.Context) (*float64, error) {
	return g.cache.Get(ctx, g.userID)
}
