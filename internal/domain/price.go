package domain

import "time"

// PriceSample is one observation of a pool's price.
type PriceSample struct {
	Pool      string
	Price     float64 // quote per base, decimal-adjusted
	Timestamp time.Time
}

// MarketSnapshot is the derived view of recent price history handed to
// decision engines. Stale means the latest sample is too old to act on.
type MarketSnapshot struct {
	Pool       string
	Latest     PriceSample
	Samples    int
	Trend      float64 // latest vs short-window average, fractional
	Variance   float64
	WindowSpan time.Duration
	Stale      bool
	Degraded   bool
}

// GameSnapshot is the orchestrator's view of the running fight handed to
// decision engines alongside the market snapshot.
type GameSnapshot struct {
	GameID        uint64
	Pool          string
	Remaining     time.Duration
	OpenPosition  *Position
	EntryPrice    float64 // zero when no position is open
	UnrealizedPnL float64
}
