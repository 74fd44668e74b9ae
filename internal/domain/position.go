package domain

import "time"

// Direction is the side of a price bet.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Position is one directional bet inside a game. A game has at most one
// open position at a time; the nonce is unique per position and is
// consumed when the position is closed on-chain.
type Position struct {
	GameID     uint64
	Nonce      uint64
	Direction  Direction
	Status     PositionStatus
	EntryPrice float64
	ExitPrice  *float64
	PnL        *float64
	Reasoning  string
	ForceClose bool // closed by the deadline rather than a decision
	OpenedAt   time.Time
	ClosedAt   *time.Time
}

// HoldTime returns how long the position has been open.
func (p Position) HoldTime(now time.Time) time.Duration {
	if p.ClosedAt != nil {
		return p.ClosedAt.Sub(p.OpenedAt)
	}
	return now.Sub(p.OpenedAt)
}

// Sign returns +1 for long, -1 for short.
func (d Direction) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}
