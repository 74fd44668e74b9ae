package domain

import (
	"context"
	"time"
)

// PriceCache mirrors the latest observed price for external consumers.
type PriceCache interface {
	SetPrice(ctx context.Context, pool string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, pool string) (float64, time.Time, error)
}

// LockManager provides distributed locking. It backs the guarantee that
// only one live bot process acts for a given wallet.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
