package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MortalCoin/mortalcoin-alith-bot/internal/domain"
)

// PriceCache mirrors the latest observed pool price into Redis so external
// consumers (dashboards, other bots) can read it without touching the chain.
// Each pool is a hash at "price:{pool}" with fields "price" and "ts" (Unix
// nanoseconds).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(pool string) string {
	return "price:" + pool
}

// SetPrice stores the latest price and timestamp for a pool.
func (pc *PriceCache) SetPrice(ctx context.Context, pool string, price float64, ts time.Time) error {
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(pool), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", pool, err)
	}
	return nil
}

// GetPrice retrieves the latest price and timestamp for a pool. It returns
// domain.ErrNotFound when no price has been mirrored yet.
func (pc *PriceCache) GetPrice(ctx context.Context, pool string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(pool)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", pool, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", pool, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", pool, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
