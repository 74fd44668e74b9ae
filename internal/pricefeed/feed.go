// Package pricefeed polls a Uniswap V2 pair and maintains a bounded window
// of price samples with derived indicators.
package pricefeed

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/MortalCoin/mortalcoin-alith-bot/internal/chain"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/config"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/domain"
)

// PoolReader reads pool state from the chain. *chain.Client satisfies it.
type PoolReader interface {
	PoolPrice(ctx context.Context, pool common.Address, stableSide uint8) (float64, error)
	PoolStableSide(ctx context.Context, pool common.Address) (uint8, error)
}

// BackendPriceSource is an alternate price source. *backend.Client
// satisfies it.
type BackendPriceSource interface {
	PoolPrice(ctx context.Context, pool string) (float64, time.Time, error)
}

// Feed polls one pool on a fixed interval. Samples are published on the
// Samples channel in non-decreasing timestamp order; a failed poll is
// logged and skipped. Snapshot derives indicators and the staleness and
// degradation signals on demand.
type Feed struct {
	reader  PoolReader
	backend BackendPriceSource // nil unless backend prices are preferred
	pool    common.Address
	cfg     config.FeedConfig
	logger  *slog.Logger

	stableOnce sync.Once
	stableSide uint8

	mu       sync.Mutex
	window   []domain.PriceSample
	failures []time.Time

	samples chan domain.PriceSample
}

// New creates a feed for the pool. stableSide comes from the pool config:
// "token0" or "token1" pin the stable side, anything else resolves it from
// the game contract on first poll.
func New(reader PoolReader, backend BackendPriceSource, pool config.PoolConfig, cfg config.FeedConfig, logger *slog.Logger) *Feed {
	f := &Feed{
		reader:  reader,
		backend: backend,
		pool:    common.HexToAddress(pool.Address),
		cfg:     cfg,
		logger: logger.With(
			slog.String("component", "pricefeed"),
			slog.String("pool", pool.Address),
		),
		samples: make(chan domain.PriceSample, 32),
	}

	switch strings.ToLower(pool.StableSide) {
	case "token0":
		f.stableOnce.Do(func() { f.stableSide = chain.StableToken0 })
	case "token1":
		f.stableOnce.Do(func() { f.stableSide = chain.StableToken1 })
	}
	return f
}

// Samples returns the channel new samples are delivered on. The channel is
// closed when Run returns.
func (f *Feed) Samples() <-chan domain.PriceSample {
	return f.samples
}

// Run polls until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	defer close(f.samples)

	ticker := time.NewTicker(f.cfg.PollInterval.Duration)
	defer ticker.Stop()

	f.logger.Info("price feed started", slog.Duration("interval", f.cfg.PollInterval.Duration))
	defer f.logger.Info("price feed stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sample, err := f.poll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				f.recordFailure()
				f.logger.Warn("poll failed", slog.String("err", err.Error()))
				continue
			}
			f.append(sample)

			select {
			case f.samples <- sample:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// poll reads one price, preferring the backend source when configured and
// falling back to on-chain reserves.
func (f *Feed) poll(ctx context.Context) (domain.PriceSample, error) {
	if f.backend != nil {
		price, ts, err := f.backend.PoolPrice(ctx, f.pool.Hex())
		if err == nil {
			return domain.PriceSample{Pool: f.pool.Hex(), Price: price, Timestamp: ts}, nil
		}
		f.logger.Debug("backend price unavailable, reading reserves", slog.String("err", err.Error()))
	}

	side, err := f.resolveStableSide(ctx)
	if err != nil {
		return domain.PriceSample{}, err
	}

	price, err := f.reader.PoolPrice(ctx, f.pool, side)
	if err != nil {
		return domain.PriceSample{}, err
	}
	return domain.PriceSample{Pool: f.pool.Hex(), Price: price, Timestamp: time.Now()}, nil
}

// resolveStableSide queries the contract once and caches the answer.
// Token0 is assumed when the query fails, matching the contract default.
func (f *Feed) resolveStableSide(ctx context.Context) (uint8, error) {
	f.stableOnce.Do(func() {
		side, err := f.reader.PoolStableSide(ctx, f.pool)
		if err != nil {
			f.logger.Warn("stable side lookup failed, assuming token0", slog.String("err", err.Error()))
			side = chain.StableToken0
		}
		f.stableSide = side
	})
	return f.stableSide, nil
}

// append adds a sample to the window, dropping it if it would go backwards
// in time, and evicts entries past capacity or max age.
func (f *Feed) append(s domain.PriceSample) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if n := len(f.window); n > 0 && s.Timestamp.Before(f.window[n-1].Timestamp) {
		return
	}
	f.window = append(f.window, s)

	if limit := f.cfg.WindowSize; limit > 0 && len(f.window) > limit {
		f.window = append(f.window[:0], f.window[len(f.window)-limit:]...)
	}
	if maxAge := f.cfg.WindowMaxAge.Duration; maxAge > 0 {
		cutoff := time.Now().Add(-maxAge)
		i := 0
		for i < len(f.window) && f.window[i].Timestamp.Before(cutoff) {
			i++
		}
		if i > 0 {
			f.window = append(f.window[:0], f.window[i:]...)
		}
	}
}

// recordFailure tracks a failed poll inside the degradation window.
func (f *Feed) recordFailure() {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	f.failures = append(f.failures, now)

	windowStart := now.Add(-time.Duration(f.cfg.DegradedWindowSec) * time.Second)
	i := 0
	for i < len(f.failures) && f.failures[i].Before(windowStart) {
		i++
	}
	if i > 0 {
		f.failures = append(f.failures[:0], f.failures[i:]...)
	}
}

// Snapshot returns the current derived view of the window.
func (f *Feed) Snapshot() domain.MarketSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := domain.MarketSnapshot{
		Pool:     f.pool.Hex(),
		Samples:  len(f.window),
		Stale:    true,
		Degraded: len(f.failures) >= f.cfg.DegradedFailures && f.cfg.DegradedFailures > 0,
	}
	if len(f.window) == 0 {
		return snap
	}

	latest := f.window[len(f.window)-1]
	snap.Latest = latest
	snap.Stale = time.Since(latest.Timestamp) > f.cfg.StaleAfter.Duration
	snap.WindowSpan = latest.Timestamp.Sub(f.window[0].Timestamp)
	snap.Trend = trend(f.window)
	snap.Variance = variance(f.window)
	return snap
}
