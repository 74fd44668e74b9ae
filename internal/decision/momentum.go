package decision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MortalCoin/mortalcoin-alith-bot/internal/domain"
)

const (
	defaultEntryTrend  = 0.0005 // fractional move vs short average before entering
	defaultTakeProfit  = 0.002
	defaultStopLoss    = -0.003
	defaultMinSamples  = 5
	lateGameHoldWindow = 8 // seconds; too late to open a fresh position
)

// Momentum is a deterministic engine that follows the short-window trend.
// It opens in the direction of a sufficiently strong move, then closes on a
// take-profit, a stop-loss, or a trend reversal. It serves both as the
// standalone engine and as the fallback when the LLM engine is tripped.
type Momentum struct {
	logger *slog.Logger
}

// NewMomentum creates a Momentum engine.
func NewMomentum(logger *slog.Logger) *Momentum {
	return &Momentum{logger: logger.With(slog.String("component", "decision_momentum"))}
}

func (m *Momentum) Name() string { return "momentum" }

// Decide never returns an error: with insufficient data it holds.
func (m *Momentum) Decide(_ context.Context, market domain.MarketSnapshot, game domain.GameSnapshot) (domain.Decision, error) {
	if market.Stale || market.Samples < defaultMinSamples {
		return domain.Decision{Action: domain.ActionHold, Rationale: "insufficient or stale price data"}, nil
	}

	if game.OpenPosition == nil {
		if game.Remaining.Seconds() < lateGameHoldWindow {
			return domain.Decision{Action: domain.ActionHold, Rationale: "too little time to open"}, nil
		}
		switch {
		case market.Trend >= defaultEntryTrend:
			return domain.Decision{
				Action:    domain.ActionOpenLong,
				Rationale: fmt.Sprintf("upward trend %+.4f%%", market.Trend*100),
			}, nil
		case market.Trend <= -defaultEntryTrend:
			return domain.Decision{
				Action:    domain.ActionOpenShort,
				Rationale: fmt.Sprintf("downward trend %+.4f%%", market.Trend*100),
			}, nil
		default:
			return domain.Decision{Action: domain.ActionHold, Rationale: "no clear trend"}, nil
		}
	}

	pnl := game.UnrealizedPnL
	if pnl >= defaultTakeProfit {
		return domain.Decision{
			Action:    domain.ActionClose,
			Rationale: fmt.Sprintf("take profit at %+.4f%%", pnl*100),
		}, nil
	}
	if pnl <= defaultStopLoss {
		return domain.Decision{
			Action:    domain.ActionClose,
			Rationale: fmt.Sprintf("stop loss at %+.4f%%", pnl*100),
		}, nil
	}

	// Trend turned against the position: cut it rather than ride it out.
	sign := game.OpenPosition.Direction.Sign()
	if market.Trend*sign <= -defaultEntryTrend {
		return domain.Decision{
			Action:    domain.ActionClose,
			Rationale: fmt.Sprintf("trend reversal %+.4f%% against %s", market.Trend*100, game.OpenPosition.Direction),
		}, nil
	}

	return domain.Decision{Action: domain.ActionHold, Rationale: "position within bounds"}, nil
}
