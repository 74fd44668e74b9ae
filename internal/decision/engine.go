package decision

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MortalCoin/mortalcoin-alith-bot/internal/config"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/domain"
)

// New builds the engine named in the config. The llm engine is wrapped in a
// Fallback that degrades to momentum after repeated failures.
func New(cfg config.DecisionConfig, logger *slog.Logger) (domain.DecisionEngine, error) {
	switch cfg.Engine {
	case "momentum":
		return NewMomentum(logger), nil
	case "llm":
		return NewFallback(NewLLMEngine(cfg, logger), NewMomentum(logger), cfg.MaxFailures, logger), nil
	default:
		return nil, fmt.Errorf("decision: unknown engine %q", cfg.Engine)
	}
}

// Fallback delegates to a primary engine and switches to a secondary one for
// the rest of the process lifetime once the primary has failed maxFailures
// times in a row. A successful primary call resets the streak.
type Fallback struct {
	primary     domain.DecisionEngine
	secondary   domain.DecisionEngine
	maxFailures int
	logger      *slog.Logger

	mu       sync.Mutex
	failures int
	tripped  bool
}

// NewFallback wraps primary with secondary. maxFailures <= 0 disables
// tripping and only the per-call fallback applies.
func NewFallback(primary, secondary domain.DecisionEngine, maxFailures int, logger *slog.Logger) *Fallback {
	return &Fallback{
		primary:     primary,
		secondary:   secondary,
		maxFailures: maxFailures,
		logger:      logger.With(slog.String("component", "decision_fallback")),
	}
}

// Name reports the engine currently in charge.
func (f *Fallback) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tripped {
		return f.secondary.Name()
	}
	return f.primary.Name()
}

// Decide tries the primary engine and falls back to the secondary when the
// primary errors. The secondary also covers the single failed call, so the
// orchestrator always gets an answer unless both engines fail.
func (f *Fallback) Decide(ctx context.Context, market domain.MarketSnapshot, game domain.GameSnapshot) (domain.Decision, error) {
	f.mu.Lock()
	tripped := f.tripped
	f.mu.Unlock()

	if !tripped {
		dec, err := f.primary.Decide(ctx, market, game)
		if err == nil {
			f.mu.Lock()
			f.failures = 0
			f.mu.Unlock()
			return dec, nil
		}

		f.mu.Lock()
		f.failures++
		if f.maxFailures > 0 && f.failures >= f.maxFailures && !f.tripped {
			f.tripped = true
			f.logger.Warn("primary engine tripped, switching to fallback",
				slog.String("primary", f.primary.Name()),
				slog.String("fallback", f.secondary.Name()),
				slog.Int("failures", f.failures))
		}
		f.mu.Unlock()

		f.logger.Warn("primary engine failed, using fallback for this tick", slog.Any("error", err))
	}

	return f.secondary.Decide(ctx, market, game)
}
