package domain

import (
	"math/big"
	"time"
)

// GameStatus tracks the lifecycle of a trading fight from the bot's
// perspective. Settled and Error are terminal.
type GameStatus string

const (
	GameStatusDiscovered  GameStatus = "discovered"
	GameStatusJoinPending GameStatus = "join_pending"
	GameStatusJoined      GameStatus = "joined"
	GameStatusActive      GameStatus = "active"
	GameStatusSettling    GameStatus = "settling"
	GameStatusSettled     GameStatus = "settled"
	GameStatusError       GameStatus = "error"
)

// Terminal reports whether no further transitions are possible.
func (s GameStatus) Terminal() bool {
	return s == GameStatusSettled || s == GameStatusError
}

// GameRole identifies which slot of the fight the bot occupies.
type GameRole string

const (
	GameRolePlayer1 GameRole = "player1"
	GameRolePlayer2 GameRole = "player2"
)

// GameResult is the settled outcome relative to the bot.
type GameResult string

const (
	GameResultWin  GameResult = "win"
	GameResultLoss GameResult = "loss"
	GameResultDraw GameResult = "draw"
)

// Game represents one two-party trading fight.
type Game struct {
	GameID    uint64 // on-chain identifier
	FightID   string // backend UUID, empty for games discovered on-chain only
	Pool      string // Uniswap V2 pair address the fight trades against
	Bot       string // bot wallet address
	Opponent  string
	Role      GameRole
	Bet       *big.Int // stake in wei
	Status    GameStatus
	Duration  time.Duration
	StartedAt *time.Time // on-chain start time, set once the fight is active
	EndedAt   *time.Time
	FinalPnL  *float64
	Result    GameResult
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Deadline returns when the fight must be settled. The zero time is
// returned while the on-chain start time is unknown.
func (g Game) Deadline() time.Time {
	if g.StartedAt == nil {
		return time.Time{}
	}
	return g.StartedAt.Add(g.Duration)
}

// Remaining returns the time left before the deadline, clamped at zero.
func (g Game) Remaining(now time.Time) time.Duration {
	d := g.Deadline()
	if d.IsZero() {
		return g.Duration
	}
	if r := d.Sub(now); r > 0 {
		return r
	}
	return 0
}
