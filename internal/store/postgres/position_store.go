package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MortalCoin/mortalcoin-alith-bot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `game_id, nonce, direction, status, entry_price,
	exit_price, pnl, reasoning, force_close, opened_at, closed_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var (
		p         domain.Position
		direction string
		status    string
	)
	err := row.Scan(
		&p.GameID, &p.Nonce, &direction, &status, &p.EntryPrice,
		&p.ExitPrice, &p.PnL, &p.Reasoning, &p.ForceClose,
		&p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Direction = domain.Direction(direction)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

// Create inserts a new position keyed by (game_id, nonce).
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			game_id, nonce, direction, status, entry_price,
			exit_price, pnl, reasoning, force_close, opened_at, closed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11
		)`

	_, err := s.pool.Exec(ctx, query,
		p.GameID, p.Nonce, string(p.Direction), string(p.Status), p.EntryPrice,
		p.ExitPrice, p.PnL, p.Reasoning, p.ForceClose, p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create position %d/%d: %w", p.GameID, p.Nonce, err)
	}
	return nil
}

// Close records the exit of a position. Closing is write-once: a position
// that is already closed returns domain.ErrPositionClosed.
func (s *PositionStore) Close(ctx context.Context, gameID, nonce uint64, exitPrice, pnl float64, forceClose bool, closedAt time.Time) error {
	const query = `
		UPDATE positions SET
			status      = 'closed',
			exit_price  = $3,
			pnl         = $4,
			force_close = $5,
			closed_at   = $6
		WHERE game_id = $1 AND nonce = $2 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, gameID, nonce, exitPrice, pnl, forceClose, closedAt)
	if err != nil {
		return fmt.Errorf("postgres: close position %d/%d: %w", gameID, nonce, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM positions WHERE game_id = $1 AND nonce = $2)",
			gameID, nonce,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check position %d/%d: %w", gameID, nonce, err)
		}
		if exists {
			return domain.ErrPositionClosed
		}
		return domain.ErrNotFound
	}
	return nil
}

// Open returns the game's open position. At most one position is open per
// game at a time.
func (s *PositionStore) Open(ctx context.Context, gameID uint64) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE game_id = $1 AND status = 'open'
		 ORDER BY opened_at DESC
		 LIMIT 1`, gameID)

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: open position for game %d: %w", gameID, err)
	}
	return p, nil
}

// ListByGame returns all positions of a game in open order.
func (s *PositionStore) ListByGame(ctx context.Context, gameID uint64) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE game_id = $1
		 ORDER BY opened_at ASC`, gameID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for game %d: %w", gameID, err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Stats aggregates settled games and closed positions for the bot. An empty
// bot aggregates across every bot.
func (s *PositionStore) Stats(ctx context.Context, bot string) (domain.Stats, error) {
	var stats domain.Stats

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE result = 'win'),
			COUNT(*) FILTER (WHERE result = 'loss'),
			COUNT(*) FILTER (WHERE result = 'draw'),
			COALESCE(SUM(final_pnl), 0)
		FROM games
		WHERE ($1 = '' OR bot = $1) AND status = 'settled'`, bot,
	).Scan(&stats.Games, &stats.Wins, &stats.Losses, &stats.Draws, &stats.TotalPnL)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("postgres: game stats: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(AVG(CASE WHEN p.pnl > 0 THEN 1.0 ELSE 0.0 END), 0)
		FROM positions p
		JOIN games g ON g.game_id = p.game_id
		WHERE ($1 = '' OR g.bot = $1) AND p.status = 'closed'`, bot,
	).Scan(&stats.Positions, &stats.PosWinRate)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("postgres: position stats: %w", err)
	}

	return stats, nil
}
