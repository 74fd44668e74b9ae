// Package game runs the fight lifecycle: discover a joinable fight, stake
// into it, trade it with a decision engine until the deadline, then settle
// and record the outcome. The orchestrator is the single consumer of the
// chain watcher, the price feed and the backend notification stream, so all
// state transitions happen on one goroutine.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/MortalCoin/mortalcoin-alith-bot/internal/backend"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/chain"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/config"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/domain"
)

// lockTTL is how long the per-wallet instance lock is held between renewals.
const lockTTL = 2 * time.Minute

// Chain is the on-chain surface the orchestrator needs.
type Chain interface {
	JoinGame(ctx context.Context, gameID uint64, pool common.Address, grant domain.SignatureGrant, bet *big.Int) error
	PostPosition(ctx context.Context, gameID uint64, hashedDirection common.Hash, grant domain.SignatureGrant) error
	ClosePosition(ctx context.Context, gameID uint64, direction domain.Direction, nonce uint64) error
	FinishGame(ctx context.Context, gameID uint64, direction domain.Direction, nonce uint64) error
	GameInfo(ctx context.Context, gameID uint64) (chain.GameInfo, error)
	PlayerInfo(ctx context.Context, player common.Address) (chain.PlayerInfo, error)
}

// Backend is the REST surface the orchestrator needs.
type Backend interface {
	AvailableGames(ctx context.Context) ([]backend.TradingFight, error)
	AddOpponent(ctx context.Context, fightID string, gameID uint64, player string, coinID int) error
	StartFight(ctx context.Context, fightID string) error
	PositionSignature(ctx context.Context, gameID uint64, player string, direction domain.Direction, nonce uint64) (domain.SignatureGrant, error)
}

// Market is one pool's running price window.
type Market interface {
	Run(ctx context.Context) error
	Samples() <-chan domain.PriceSample
	Snapshot() domain.MarketSnapshot
}

// GameWatcher polls one game's on-chain state.
type GameWatcher interface {
	Run(ctx context.Context)
	Events() <-chan domain.ChainEvent
}

// Notifier forwards lifecycle events to chat channels.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// MarketFactory builds a Market for a configured pool.
type MarketFactory func(pool config.PoolConfig) Market

// WatcherFactory builds a GameWatcher for a game id.
type WatcherFactory func(gameID uint64) GameWatcher

// Deps bundles everything the orchestrator is wired with. Notifier,
// Archiver, Prices and Locks may be nil.
type Deps struct {
	Chain         Chain
	Backend       Backend
	Engine        domain.DecisionEngine
	Games         domain.GameStore
	Positions     domain.PositionStore
	Notifier      Notifier
	Archiver      domain.GameArchiver
	Prices        domain.PriceCache
	Locks         domain.LockManager
	BackendEvents <-chan domain.BackendEvent
	NewMarket     MarketFactory
	NewWatcher    WatcherFactory
	Logger        *slog.Logger
}

// Orchestrator drives the bot through fights one at a time.
type Orchestrator struct {
	cfg   config.Config
	deps  Deps
	bot   common.Address
	pools map[string]config.PoolConfig // lowercase address -> config
	retry RetryPolicy

	logger *slog.Logger

	// overridable in tests
	now   func() time.Time
	nonce func() uint64
}

// New creates an orchestrator for the given bot wallet address.
func New(cfg config.Config, bot common.Address, deps Deps) *Orchestrator {
	pools := make(map[string]config.PoolConfig, len(cfg.Pools))
	for _, p := range cfg.Pools {
		pools[strings.ToLower(p.Address)] = p
	}
	return &Orchestrator{
		cfg:   cfg,
		deps:  deps,
		bot:   bot,
		pools: pools,
		retry: RetryPolicy{
			Attempts:   cfg.Game.RetryAttempts,
			Backoff:    cfg.Game.RetryBackoff.Duration,
			BackoffMax: cfg.Game.RetryBackoffMax.Duration,
		},
		logger: deps.Logger.With(slog.String("component", "orchestrator")),
		now:    time.Now,
		nonce:  func() uint64 { return rand.Uint64N(1_000_000) + 1 },
	}
}

// Run acquires the instance lock, resumes any fight left open by a previous
// process, then alternates between discovery and play until ctx is
// cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.deps.Locks != nil {
		key := "mortalbot:" + strings.ToLower(o.bot.Hex())
		unlock, err := o.deps.Locks.Acquire(ctx, key, lockTTL)
		if err != nil {
			return fmt.Errorf("game: acquire instance lock: %w", err)
		}
		defer unlock()
	}

	if err := o.resume(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(o.cfg.Game.DiscoveryInterval.Duration)
	defer ticker.Stop()

	o.logger.Info("discovery started",
		slog.String("bot", o.bot.Hex()),
		slog.Int("pools", len(o.pools)))

	backendEvents := o.deps.BackendEvents
	for {
		if err := o.discoverOnce(ctx); err != nil && !errors.Is(err, domain.ErrNotFound) {
			o.logger.Error("discovery pass failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-backendEvents:
			// Events arriving while idle carry no work, but the stream
			// must be drained to keep the socket reader unblocked.
			if !ok {
				backendEvents = nil
				continue
			}
			o.logger.Debug("ignoring backend event while idle", slog.String("kind", string(ev.Kind)))
		case <-ticker.C:
		}
	}
}

// resume reconciles a fight the previous process left open. If the chain
// still has the bot inside the game the fight is played to completion,
// otherwise the stored record is settled from whatever the chain reports.
func (o *Orchestrator) resume(ctx context.Context) error {
	g, err := o.deps.Games.LatestOpen(ctx, o.botHex())
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("game: load open game: %w", err)
	}

	o.logger.Info("resuming open game",
		slog.Uint64("game_id", g.GameID),
		slog.String("status", string(g.Status)))

	info, err := o.deps.Chain.PlayerInfo(ctx, o.bot)
	if err != nil {
		return fmt.Errorf("game: player info for resume: %w", err)
	}

	if info.InGame && info.GameID == g.GameID {
		return o.play(ctx, &g)
	}

	// The chain no longer has us in this game: it either settled while we
	// were down or the join never landed.
	chainGame, err := o.deps.Chain.GameInfo(ctx, g.GameID)
	if err != nil {
		return fmt.Errorf("game: game info for resume: %w", err)
	}
	if chainGame.State == chain.StateFinished {
		o.finalize(ctx, &g)
		return nil
	}

	o.fail(ctx, &g, fmt.Errorf("game: game %d abandoned on chain (state %d)", g.GameID, chainGame.State))
	return nil
}

// discoverOnce lists joinable fights and plays the first acceptable one to
// completion. ErrNotFound means nothing was joinable this pass.
func (o *Orchestrator) discoverOnce(ctx context.Context) error {
	fights, err := o.deps.Backend.AvailableGames(ctx)
	if err != nil {
		return fmt.Errorf("game: list fights: %w", err)
	}

	maxBet, _ := o.cfg.Game.MaxBet()

	for _, fight := range fights {
		pool, ok := o.pools[strings.ToLower(fight.Pool)]
		if !ok {
			continue
		}
		gameID, err := fight.NumericGameID()
		if err != nil {
			o.logger.Warn("skipping fight", slog.String("fight_id", fight.ID), slog.Any("error", err))
			continue
		}

		bet, ok := new(big.Int).SetString(fight.BetAmount, 10)
		if !ok || bet.Sign() < 0 {
			o.logger.Warn("skipping fight with invalid bet",
				slog.String("fight_id", fight.ID),
				slog.String("bet", fight.BetAmount))
			continue
		}
		if maxBet != nil && bet.Cmp(maxBet) > 0 {
			continue
		}

		// The listing can lag the chain; only stake into games that are
		// still waiting for an opponent.
		info, err := o.deps.Chain.GameInfo(ctx, gameID)
		if err != nil {
			o.logger.Warn("skipping fight, chain lookup failed",
				slog.Uint64("game_id", gameID), slog.Any("error", err))
			continue
		}
		if info.State != chain.StateCreated || info.Player2 != (common.Address{}) {
			continue
		}

		return o.joinAndPlay(ctx, fight, gameID, pool, bet)
	}

	return domain.ErrNotFound
}

func (o *Orchestrator) botHex() string {
	return strings.ToLower(o.bot.Hex())
}
