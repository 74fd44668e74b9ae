package chain

import (
	"context"
	"log/slog"
	"time"

	"github.com/MortalCoin/mortalcoin-alith-bot/internal/domain"
)

// Watcher polls the contract state of one fight and emits lifecycle events.
// The contract exposes no log subscriptions on the endpoints the bot runs
// against, so state transitions are detected by diffing consecutive reads.
type Watcher struct {
	client   *Client
	gameID   uint64
	interval time.Duration
	logger   *slog.Logger

	events chan domain.ChainEvent
}

// NewWatcher creates a watcher for gameID. Call Run to start polling.
func NewWatcher(client *Client, gameID uint64, interval time.Duration, logger *slog.Logger) *Watcher {
	return &Watcher{
		client:   client,
		gameID:   gameID,
		interval: interval,
		logger:   logger.With(slog.String("component", "chain_watcher"), slog.Uint64("game_id", gameID)),
		events:   make(chan domain.ChainEvent, 8),
	}
}

// Events returns the channel lifecycle events are delivered on. The channel
// is closed when Run returns.
func (w *Watcher) Events() <-chan domain.ChainEvent {
	return w.events
}

// Run polls until ctx is cancelled or the fight reaches a terminal state.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.events)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var (
		sawOpponent bool
		sawStart    bool
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := w.client.GameInfo(ctx, w.gameID)
			if err != nil {
				w.logger.Warn("game state poll failed", slog.String("err", err.Error()))
				continue
			}

			now := time.Now()

			if !sawOpponent && info.Player1 != (zeroAddress) && info.Player2 != (zeroAddress) {
				sawOpponent = true
				w.emit(ctx, domain.ChainEvent{
					Kind:       domain.ChainEventOpponentJoined,
					GameID:     w.gameID,
					ObservedAt: now,
				})
			}

			if !sawStart && info.State == StateStarted {
				sawStart = true
				w.emit(ctx, domain.ChainEvent{
					Kind:       domain.ChainEventGameStarted,
					GameID:     w.gameID,
					StartedAt:  info.StartTime,
					ObservedAt: now,
				})
			}

			if info.State == StateFinished {
				w.emit(ctx, domain.ChainEvent{
					Kind:       domain.ChainEventGameSettled,
					GameID:     w.gameID,
					ObservedAt: now,
				})
				return
			}
		}
	}
}

func (w *Watcher) emit(ctx context.Context, ev domain.ChainEvent) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}
