package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/MortalCoin/mortalcoin-alith-bot/internal/domain"
)

// GameArchiver writes settled game records to object storage at
// games/YYYY/MM/game_{id}.json, one object per game.
type GameArchiver struct {
	writer *Writer
	logger *slog.Logger
}

// NewGameArchiver creates a GameArchiver uploading through the given client.
func NewGameArchiver(c *Client, logger *slog.Logger) *GameArchiver {
	return &GameArchiver{
		writer: NewWriter(c),
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// archivedGame is the stored representation of a settled fight.
type archivedGame struct {
	GameID    uint64             `json:"game_id"`
	FightID   string             `json:"fight_id,omitempty"`
	Pool      string             `json:"pool"`
	Bot       string             `json:"bot"`
	Opponent  string             `json:"opponent,omitempty"`
	Role      string             `json:"role"`
	BetWei    string             `json:"bet_wei"`
	Status    string             `json:"status"`
	Result    string             `json:"result,omitempty"`
	FinalPnL  *float64           `json:"final_pnl,omitempty"`
	StartedAt *time.Time         `json:"started_at,omitempty"`
	EndedAt   *time.Time         `json:"ended_at,omitempty"`
	LastError string             `json:"last_error,omitempty"`
	Positions []archivedPosition `json:"positions"`
}

type archivedPosition struct {
	Nonce      uint64     `json:"nonce"`
	Direction  string     `json:"direction"`
	Status     string     `json:"status"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  *float64   `json:"exit_price,omitempty"`
	PnL        *float64   `json:"pnl,omitempty"`
	Reasoning  string     `json:"reasoning,omitempty"`
	ForceClose bool       `json:"force_close"`
	OpenedAt   time.Time  `json:"opened_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

// ArchiveGame serializes the game and its positions and uploads the record.
// Re-archiving a game overwrites the previous object.
func (a *GameArchiver) ArchiveGame(ctx context.Context, game domain.Game, positions []domain.Position) error {
	record := archivedGame{
		GameID:    game.GameID,
		FightID:   game.FightID,
		Pool:      game.Pool,
		Bot:       game.Bot,
		Opponent:  game.Opponent,
		Role:      string(game.Role),
		BetWei:    betString(game.Bet),
		Status:    string(game.Status),
		Result:    string(game.Result),
		FinalPnL:  game.FinalPnL,
		StartedAt: game.StartedAt,
		EndedAt:   game.EndedAt,
		LastError: game.LastError,
		Positions: make([]archivedPosition, 0, len(positions)),
	}
	for _, p := range positions {
		record.Positions = append(record.Positions, archivedPosition{
			Nonce:      p.Nonce,
			Direction:  string(p.Direction),
			Status:     string(p.Status),
			EntryPrice: p.EntryPrice,
			ExitPrice:  p.ExitPrice,
			PnL:        p.PnL,
			Reasoning:  p.Reasoning,
			ForceClose: p.ForceClose,
			OpenedAt:   p.OpenedAt,
			ClosedAt:   p.ClosedAt,
		})
	}

	buf, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: marshal game %d: %w", game.GameID, err)
	}

	path := gamePath(game)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive game %d: %w", game.GameID, err)
	}

	a.logger.Info("game archived",
		slog.Uint64("game_id", game.GameID),
		slog.String("path", path))
	return nil
}

// gamePath places each record under the month the fight ended in, falling
// back to the creation time for games that never started.
func gamePath(game domain.Game) string {
	ts := game.CreatedAt
	if game.EndedAt != nil {
		ts = *game.EndedAt
	}
	return fmt.Sprintf("games/%04d/%02d/game_%d.json", ts.Year(), int(ts.Month()), game.GameID)
}

func betString(bet *big.Int) string {
	if bet == nil {
		return "0"
	}
	return bet.String()
}

// Compile-time interface check.
var _ domain.GameArchiver = (*GameArchiver)(nil)
