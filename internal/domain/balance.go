package domain

import "context"

// BalanceSource returns the authoritative credit balance of the principal in ctx
type BalanceSource interface {
	Balance(ctx context.Context) (float64, error)
}
