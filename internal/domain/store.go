package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// GameStore persists game records. Writes happen synchronously at every
// state transition so a crash can resume from the latest record.
type GameStore interface {
	Create(ctx context.Context, game Game) error
	UpdateStatus(ctx context.Context, gameID uint64, status GameStatus, lastError string) error
	SetStarted(ctx context.Context, gameID uint64, startedAt time.Time) error
	Finish(ctx context.Context, gameID uint64, result GameResult, finalPnL float64, endedAt time.Time) error
	GetByID(ctx context.Context, gameID uint64) (Game, error)
	LatestOpen(ctx context.Context, bot string) (Game, error)
	ListHistory(ctx context.Context, bot string, opts ListOpts) ([]Game, error)
}

// PositionStore persists positions keyed by (game_id, nonce). Close is
// write-once: closing an already-closed position returns
// ErrPositionClosed.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Close(ctx context.Context, gameID, nonce uint64, exitPrice, pnl float64, forceClose bool, closedAt time.Time) error
	Open(ctx context.Context, gameID uint64) (Position, error)
	ListByGame(ctx context.Context, gameID uint64) ([]Position, error)
}

// Stats is the aggregate record of past fights.
type Stats struct {
	Games      int64
	Wins       int64
	Losses     int64
	Draws      int64
	TotalPnL   float64
	Positions  int64
	PosWinRate float64
}

// StatsReader computes aggregate results across settled games.
type StatsReader interface {
	Stats(ctx context.Context, bot string) (Stats, error)
}
