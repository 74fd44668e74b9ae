package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MortalCoin/mortalcoin-alith-bot/internal/domain"
)

// GameStore implements domain.GameStore using PostgreSQL.
type GameStore struct {
	pool *pgxpool.Pool
}

// NewGameStore creates a GameStore backed by the given connection pool.
func NewGameStore(pool *pgxpool.Pool) *GameStore {
	return &GameStore{pool: pool}
}

const gameSelectCols = `game_id, fight_id, pool, bot, opponent, role, bet_wei,
	status, duration_ms, started_at, ended_at, final_pnl, result, last_error,
	created_at, updated_at`

func scanGameRow(row pgx.Row) (domain.Game, error) {
	var (
		g          domain.Game
		role       string
		status     string
		result     string
		betWei     string
		durationMS int64
	)
	err := row.Scan(
		&g.GameID, &g.FightID, &g.Pool, &g.Bot, &g.Opponent, &role, &betWei,
		&status, &durationMS, &g.StartedAt, &g.EndedAt, &g.FinalPnL, &result,
		&g.LastError, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return domain.Game{}, err
	}
	g.Role = domain.GameRole(role)
	g.Status = domain.GameStatus(status)
	g.Result = domain.GameResult(result)
	g.Duration = time.Duration(durationMS) * time.Millisecond
	if bet, ok := new(big.Int).SetString(betWei, 10); ok {
		g.Bet = bet
	}
	return g, nil
}

// Create inserts a new game record. A game that already exists returns
// domain.ErrAlreadyExists.
func (s *GameStore) Create(ctx context.Context, g domain.Game) error {
	const query = `
		INSERT INTO games (
			game_id, fight_id, pool, bot, opponent, role, bet_wei,
			status, duration_ms, started_at, ended_at, final_pnl, result,
			last_error, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, NOW(), NOW()
		)`

	bet := "0"
	if g.Bet != nil {
		bet = g.Bet.String()
	}
	_, err := s.pool.Exec(ctx, query,
		g.GameID, g.FightID, g.Pool, g.Bot, g.Opponent, string(g.Role), bet,
		string(g.Status), g.Duration.Milliseconds(), g.StartedAt, g.EndedAt,
		g.FinalPnL, string(g.Result), g.LastError,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create game %d: %w", g.GameID, err)
	}
	return nil
}

// UpdateStatus moves a game to the given status and records the last error.
func (s *GameStore) UpdateStatus(ctx context.Context, gameID uint64, status domain.GameStatus, lastError string) error {
	const query = `
		UPDATE games SET
			status     = $2,
			last_error = $3,
			updated_at = NOW()
		WHERE game_id = $1`

	tag, err := s.pool.Exec(ctx, query, gameID, string(status), lastError)
	if err != nil {
		return fmt.Errorf("postgres: update game %d status: %w", gameID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetStarted records the on-chain start time that anchors the deadline.
func (s *GameStore) SetStarted(ctx context.Context, gameID uint64, startedAt time.Time) error {
	const query = `
		UPDATE games SET
			started_at = $2,
			updated_at = NOW()
		WHERE game_id = $1`

	tag, err := s.pool.Exec(ctx, query, gameID, startedAt)
	if err != nil {
		return fmt.Errorf("postgres: set game %d started: %w", gameID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Finish marks a game settled with its realized result.
func (s *GameStore) Finish(ctx context.Context, gameID uint64, result domain.GameResult, finalPnL float64, endedAt time.Time) error {
	const query = `
		UPDATE games SET
			status     = 'settled',
			result     = $2,
			final_pnl  = $3,
			ended_at   = $4,
			updated_at = NOW()
		WHERE game_id = $1`

	tag, err := s.pool.Exec(ctx, query, gameID, string(result), finalPnL, endedAt)
	if err != nil {
		return fmt.Errorf("postgres: finish game %d: %w", gameID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single game.
func (s *GameStore) GetByID(ctx context.Context, gameID uint64) (domain.Game, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+gameSelectCols+` FROM games WHERE game_id = $1`, gameID)

	g, err := scanGameRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Game{}, domain.ErrNotFound
		}
		return domain.Game{}, fmt.Errorf("postgres: get game %d: %w", gameID, err)
	}
	return g, nil
}

// LatestOpen returns the most recent non-terminal game for the bot, used to
// resume after a crash.
func (s *GameStore) LatestOpen(ctx context.Context, bot string) (domain.Game, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+gameSelectCols+` FROM games
		 WHERE bot = $1 AND status NOT IN ('settled', 'error')
		 ORDER BY created_at DESC
		 LIMIT 1`, bot)

	g, err := scanGameRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Game{}, domain.ErrNotFound
		}
		return domain.Game{}, fmt.Errorf("postgres: latest open game: %w", err)
	}
	return g, nil
}

// ListHistory returns the bot's games, newest first, with pagination and
// optional time filtering. An empty bot matches every bot.
func (s *GameStore) ListHistory(ctx context.Context, bot string, opts domain.ListOpts) ([]domain.Game, error) {
	query := `SELECT ` + gameSelectCols + ` FROM games WHERE ($1 = '' OR bot = $1)`
	args := []any{bot}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list games: %w", err)
	}
	defer rows.Close()

	var games []domain.Game
	for rows.Next() {
		g, err := scanGameRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan game: %w", err)
		}
		games = append(games, g)
	}
	return games, rows.Err()
}
