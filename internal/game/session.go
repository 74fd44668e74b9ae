package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/MortalCoin/mortalcoin-alith-bot/internal/backend"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/chain"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/config"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/crypto"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/domain"
)

// startWait bounds how long the bot waits for the creator side to start the
// fight after both stakes are in.
const startWait = 5 * time.Minute

// joinAndPlay registers as the opponent, stakes into the game and plays it
// to completion.
func (o *Orchestrator) joinAndPlay(ctx context.Context, fight backend.TradingFight, gameID uint64, pool config.PoolConfig, bet *big.Int) error {
	now := o.now()
	g := domain.Game{
		GameID:    gameID,
		FightID:   fight.ID,
		Pool:      pool.Address,
		Bot:       o.botHex(),
		Opponent:  fight.Creator,
		Role:      domain.GameRolePlayer2,
		Bet:       bet,
		Status:    domain.GameStatusDiscovered,
		Duration:  o.cfg.Game.Duration.Duration,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.deps.Games.Create(ctx, g); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return fmt.Errorf("game: persist game %d: %w", gameID, err)
	}

	o.logger.Info("joining fight",
		slog.Uint64("game_id", gameID),
		slog.String("fight_id", fight.ID),
		slog.String("pool", pool.Address),
		slog.String("bet", bet.String()))

	err := o.retry.retry(ctx, o.logger, "add_opponent", func() error {
		return o.deps.Backend.AddOpponent(ctx, fight.ID, gameID, o.botHex(), fight.CoinID)
	})
	if err != nil {
		o.fail(ctx, &g, fmt.Errorf("game: add opponent: %w", err))
		return nil
	}
	o.setStatus(ctx, &g, domain.GameStatusJoinPending)

	grant, err := o.awaitJoinGrant(ctx, fight.ID, gameID)
	if err != nil {
		o.fail(ctx, &g, err)
		return nil
	}

	// Join grants are single use: every attempt after the first asks the
	// backend for a fresh one before touching the chain again.
	attempt := 0
	err = o.retry.retry(ctx, o.logger, "join_game", func() error {
		attempt++
		if attempt > 1 {
			if rerr := o.deps.Backend.AddOpponent(ctx, fight.ID, gameID, o.botHex(), fight.CoinID); rerr != nil {
				return rerr
			}
			var gerr error
			if grant, gerr = o.awaitJoinGrant(ctx, fight.ID, gameID); gerr != nil {
				return gerr
			}
		}
		return o.deps.Chain.JoinGame(ctx, gameID, common.HexToAddress(pool.Address), grant, bet)
	})
	if errors.Is(err, domain.ErrAlreadyJoined) {
		// Either our transaction landed on a previous attempt or someone
		// beat us to the slot. The chain knows which.
		info, perr := o.deps.Chain.PlayerInfo(ctx, o.bot)
		if perr != nil || !info.InGame || info.GameID != gameID {
			o.fail(ctx, &g, fmt.Errorf("game: join slot taken for game %d: %w", gameID, err))
			return nil
		}
		err = nil
	}
	if err != nil {
		o.fail(ctx, &g, fmt.Errorf("game: join game %d: %w", gameID, err))
		return nil
	}

	o.setStatus(ctx, &g, domain.GameStatusJoined)
	o.notify(ctx, domain.NotifyGameJoined, "Fight joined",
		fmt.Sprintf("game %d on %s, stake %s wei", gameID, pool.Label, bet.String()))

	// Start failures are not fatal: the creator can still start from their
	// side once both stakes are visible.
	err = o.retry.retry(ctx, o.logger, "start_fight", func() error {
		return o.deps.Backend.StartFight(ctx, fight.ID)
	})
	if err != nil {
		o.logger.Warn("start fight request failed", slog.String("fight_id", fight.ID), slog.Any("error", err))
	}

	return o.play(ctx, &g)
}

// awaitJoinGrant waits on the backend stream for the signature authorizing
// our joinGame call.
func (o *Orchestrator) awaitJoinGrant(ctx context.Context, fightID string, gameID uint64) (domain.SignatureGrant, error) {
	timeout := time.NewTimer(o.cfg.Game.SignatureWait.Duration)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return domain.SignatureGrant{}, ctx.Err()
		case <-timeout.C:
			return domain.SignatureGrant{}, fmt.Errorf("game: no join signature for fight %s within %s", fightID, o.cfg.Game.SignatureWait)
		case ev, ok := <-o.deps.BackendEvents:
			if !ok {
				return domain.SignatureGrant{}, domain.ErrWSDisconnect
			}
			if ev.Kind != domain.BackendEventSignatureReady {
				continue
			}
			if ev.FightID != fightID && ev.GameID != gameID {
				continue
			}
			grant, err := backend.ParseJoinGrant(ev.Raw)
			if err != nil {
				return domain.SignatureGrant{}, err
			}
			grant.GameID = gameID
			return grant, nil
		}
	}
}

// play runs one fight from joined to settled. The watcher and the price
// feed run as subordinates of this call and stop when it returns.
func (o *Orchestrator) play(ctx context.Context, g *domain.Game) error {
	pool, ok := o.pools[poolKey(g.Pool)]
	if !ok {
		pool = config.PoolConfig{Address: g.Pool, Label: g.Pool, StableSide: "auto"}
	}
	market := o.deps.NewMarket(pool)
	watcher := o.deps.NewWatcher(g.GameID)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, runCtx := errgroup.WithContext(runCtx)
	eg.Go(func() error {
		watcher.Run(runCtx)
		return nil
	})
	eg.Go(func() error {
		return market.Run(runCtx)
	})

	err := o.playLoop(runCtx, g, market, watcher)

	cancel()
	if werr := eg.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
		o.logger.Warn("feed shutdown error", slog.Any("error", werr))
	}
	if err != nil && ctx.Err() == nil {
		o.fail(ctx, g, err)
		return nil
	}
	return err
}

func (o *Orchestrator) playLoop(ctx context.Context, g *domain.Game, market Market, watcher GameWatcher) error {
	done, err := o.waitForStart(ctx, g, watcher)
	if err != nil || done {
		return err
	}

	deadline := g.Deadline()
	forceAt := deadline.Add(-o.cfg.Game.ForceCloseMargin.Duration)

	o.logger.Info("fight active",
		slog.Uint64("game_id", g.GameID),
		slog.Time("deadline", deadline))

	deadlineTimer := time.NewTimer(deadline.Sub(o.now()))
	defer deadlineTimer.Stop()
	forceTimer := time.NewTimer(forceAt.Sub(o.now()))
	defer forceTimer.Stop()
	decideTicker := time.NewTicker(o.cfg.Game.DecideInterval.Duration)
	defer decideTicker.Stop()

	chainEvents := watcher.Events()
	samples := market.Samples()
	backendEvents := o.deps.BackendEvents
	forced := false
	decisionFailures := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-chainEvents:
			if !ok {
				chainEvents = nil
				continue
			}
			if ev.Kind == domain.ChainEventGameSettled {
				return o.settle(ctx, g, market, true)
			}

		case sample, ok := <-samples:
			if !ok {
				samples = nil
				continue
			}
			if o.deps.Prices != nil {
				if err := o.deps.Prices.SetPrice(ctx, sample.Pool, sample.Price, sample.Timestamp); err != nil {
					o.logger.Debug("price cache write failed", slog.Any("error", err))
				}
			}

		case ev, ok := <-backendEvents:
			if !ok {
				backendEvents = nil
				continue
			}
			o.logger.Debug("backend event during fight", slog.String("kind", string(ev.Kind)))

		case <-decideTicker.C:
			if forced {
				continue
			}
			if err := o.decide(ctx, g, market); err != nil {
				decisionFailures++
				if max := o.cfg.Decision.MaxFailures; max > 0 && decisionFailures >= max {
					return fmt.Errorf("game: engine failed %d times in a row: %w", decisionFailures, err)
				}
				continue
			}
			decisionFailures = 0

		case <-forceTimer.C:
			forced = true
			decideTicker.Stop()
			o.forceClose(ctx, g, market)

		case <-deadlineTimer.C:
			return o.settle(ctx, g, market, false)
		}
	}
}

// waitForStart blocks until the chain reports the fight as started and
// records the on-chain start time, which anchors the deadline. done is true
// when the fight already finished and nothing is left to play.
func (o *Orchestrator) waitForStart(ctx context.Context, g *domain.Game, watcher GameWatcher) (done bool, err error) {
	if g.StartedAt == nil {
		info, err := o.deps.Chain.GameInfo(ctx, g.GameID)
		if err != nil {
			return false, fmt.Errorf("game: game info for start: %w", err)
		}
		switch info.State {
		case chain.StateStarted:
			g.StartedAt = &info.StartTime
		case chain.StateFinished:
			o.setStatus(ctx, g, domain.GameStatusSettling)
			o.finalize(ctx, g)
			return true, nil
		}
	}

	if g.StartedAt == nil {
		timeout := time.NewTimer(startWait)
		defer timeout.Stop()
	wait:
		for {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-timeout.C:
				return false, fmt.Errorf("game: game %d not started within %s", g.GameID, startWait)
			case ev, ok := <-watcher.Events():
				if !ok {
					return false, fmt.Errorf("game: watcher closed before game %d started", g.GameID)
				}
				if ev.Kind == domain.ChainEventGameStarted {
					started := ev.StartedAt
					g.StartedAt = &started
					break wait
				}
			}
		}
	}

	if err := o.deps.Games.SetStarted(ctx, g.GameID, *g.StartedAt); err != nil {
		return false, fmt.Errorf("game: record start: %w", err)
	}
	o.setStatus(ctx, g, domain.GameStatusActive)
	return false, nil
}

// decide asks the engine for the next action and applies it. Stale or
// degraded data means hold; an engine error also holds and is returned so
// the play loop can count consecutive failures.
func (o *Orchestrator) decide(ctx context.Context, g *domain.Game, market Market) error {
	snap := market.Snapshot()
	if snap.Stale || snap.Degraded || snap.Latest.Price == 0 {
		o.logger.Debug("holding on unreliable feed",
			slog.Uint64("game_id", g.GameID),
			slog.Bool("stale", snap.Stale),
			slog.Bool("degraded", snap.Degraded))
		return nil
	}

	pos, err := o.openPosition(ctx, g.GameID)
	if err != nil {
		o.logger.Warn("position lookup failed", slog.Any("error", err))
		return nil
	}

	gameSnap := domain.GameSnapshot{
		GameID:       g.GameID,
		Pool:         g.Pool,
		Remaining:    g.Remaining(o.now()),
		OpenPosition: pos,
	}
	if pos != nil {
		gameSnap.EntryPrice = pos.EntryPrice
		gameSnap.UnrealizedPnL = unrealizedPnL(*pos, snap.Latest.Price)
	}

	decCtx := ctx
	if o.cfg.Decision.Timeout.Duration > 0 {
		var cancel context.CancelFunc
		decCtx, cancel = context.WithTimeout(ctx, o.cfg.Decision.Timeout.Duration)
		defer cancel()
	}
	dec, err := o.deps.Engine.Decide(decCtx, snap, gameSnap)
	if err != nil {
		o.logger.Warn("decision failed, holding", slog.Any("error", err))
		return err
	}

	switch dec.Action {
	case domain.ActionOpenLong:
		if pos == nil {
			o.open(ctx, g, domain.DirectionLong, snap.Latest.Price, dec.Rationale)
		}
	case domain.ActionOpenShort:
		if pos == nil {
			o.open(ctx, g, domain.DirectionShort, snap.Latest.Price, dec.Rationale)
		}
	case domain.ActionClose:
		if pos != nil {
			o.close(ctx, g, *pos, snap.Latest.Price, false, dec.Rationale)
		}
	}
	return nil
}

// open commits a direction on chain and records the position. Position
// grants are single use, so every submission attempt asks the backend for a
// fresh signature.
func (o *Orchestrator) open(ctx context.Context, g *domain.Game, dir domain.Direction, price float64, rationale string) {
	nonce := o.nonce()
	fallbackHash := crypto.HashDirection(g.GameID, directionByte(dir), nonce)

	err := o.retry.retry(ctx, o.logger, "post_position", func() error {
		grant, serr := o.deps.Backend.PositionSignature(ctx, g.GameID, o.botHex(), dir, nonce)
		if serr != nil {
			return serr
		}
		hashed := fallbackHash
		if len(grant.Hashed) == common.HashLength {
			hashed = common.BytesToHash(grant.Hashed)
		}
		return o.deps.Chain.PostPosition(ctx, g.GameID, hashed, grant)
	})
	if err != nil {
		o.logger.Error("open position failed", slog.Uint64("game_id", g.GameID), slog.Any("error", err))
		return
	}

	pos := domain.Position{
		GameID:     g.GameID,
		Nonce:      nonce,
		Direction:  dir,
		Status:     domain.PositionStatusOpen,
		EntryPrice: price,
		Reasoning:  rationale,
		OpenedAt:   o.now(),
	}
	if err := o.deps.Positions.Create(ctx, pos); err != nil {
		o.logger.Error("persist position failed", slog.Uint64("game_id", g.GameID), slog.Any("error", err))
	}

	o.logger.Info("position opened",
		slog.Uint64("game_id", g.GameID),
		slog.String("direction", string(dir)),
		slog.Float64("entry", price))
	o.notify(ctx, domain.NotifyPositionOpened, "Position opened",
		fmt.Sprintf("game %d: %s @ %.8f (%s)", g.GameID, dir, price, rationale))
}

// close reveals the direction on chain and records the realized result.
// A position already closed on chain is recorded as closed rather than
// treated as a failure.
func (o *Orchestrator) close(ctx context.Context, g *domain.Game, pos domain.Position, exitPrice float64, force bool, rationale string) {
	err := o.retry.retry(ctx, o.logger, "close_position", func() error {
		return o.deps.Chain.ClosePosition(ctx, g.GameID, pos.Direction, pos.Nonce)
	})
	if err != nil && !errors.Is(err, domain.ErrPositionClosed) {
		o.logger.Error("close position failed", slog.Uint64("game_id", g.GameID), slog.Any("error", err))
		return
	}

	pnl := unrealizedPnL(pos, exitPrice)
	err = o.deps.Positions.Close(ctx, g.GameID, pos.Nonce, exitPrice, pnl, force, o.now())
	if err != nil && !errors.Is(err, domain.ErrPositionClosed) {
		o.logger.Error("persist close failed", slog.Uint64("game_id", g.GameID), slog.Any("error", err))
	}

	o.logger.Info("position closed",
		slog.Uint64("game_id", g.GameID),
		slog.Uint64("nonce", pos.Nonce),
		slog.Float64("exit", exitPrice),
		slog.Float64("pnl", pnl),
		slog.Bool("force", force))
	o.notify(ctx, domain.NotifyPositionClosed, "Position closed",
		fmt.Sprintf("game %d: %s %.8f -> %.8f, pnl %+.4f%% (%s)", g.GameID, pos.Direction, pos.EntryPrice, exitPrice, pnl*100, rationale))
}

// forceClose flattens any open position shortly before the deadline so the
// final reveal cannot land after the game ends.
func (o *Orchestrator) forceClose(ctx context.Context, g *domain.Game, market Market) {
	pos, err := o.openPosition(ctx, g.GameID)
	if err != nil {
		o.logger.Warn("force close lookup failed", slog.Any("error", err))
		return
	}
	if pos == nil {
		return
	}
	o.close(ctx, g, *pos, market.Snapshot().Latest.Price, true, "deadline approaching")
}

// settle flattens, finishes the game on chain when the chain has not
// already, and records the outcome. chainFinished is true when the watcher
// saw the game reach its finished state first.
func (o *Orchestrator) settle(ctx context.Context, g *domain.Game, market Market, chainFinished bool) error {
	o.setStatus(ctx, g, domain.GameStatusSettling)

	if pos, err := o.openPosition(ctx, g.GameID); err == nil && pos != nil {
		o.close(ctx, g, *pos, market.Snapshot().Latest.Price, true, "settlement")
	}

	if !chainFinished {
		dir, nonce := o.lastCommitment(ctx, g.GameID)
		err := o.retry.retry(ctx, o.logger, "finish_game", func() error {
			return o.deps.Chain.FinishGame(ctx, g.GameID, dir, nonce)
		})
		if err != nil && !errors.Is(err, domain.ErrPositionClosed) {
			// The opponent may finish first; anything else is worth a record
			// but the outcome below still stands.
			o.logger.Error("finish game failed", slog.Uint64("game_id", g.GameID), slog.Any("error", err))
		}
	}

	o.finalize(ctx, g)
	return nil
}

// lastCommitment returns the direction and nonce of the most recent
// position, which the contract requires to finish the game.
func (o *Orchestrator) lastCommitment(ctx context.Context, gameID uint64) (domain.Direction, uint64) {
	list, err := o.deps.Positions.ListByGame(ctx, gameID)
	if err != nil || len(list) == 0 {
		return domain.DirectionLong, 0
	}
	last := list[len(list)-1]
	return last.Direction, last.Nonce
}

// finalize computes the realized result, marks the game settled and ships
// the record to the archive.
func (o *Orchestrator) finalize(ctx context.Context, g *domain.Game) {
	positions, err := o.deps.Positions.ListByGame(ctx, g.GameID)
	if err != nil {
		o.logger.Error("list positions for settlement failed", slog.Any("error", err))
	}

	var total float64
	for _, p := range positions {
		if p.PnL != nil {
			total += *p.PnL
		}
	}
	result := domain.GameResultDraw
	switch {
	case total > 0:
		result = domain.GameResultWin
	case total < 0:
		result = domain.GameResultLoss
	}

	endedAt := o.now()
	if err := o.deps.Games.Finish(ctx, g.GameID, result, total, endedAt); err != nil {
		o.logger.Error("record settlement failed", slog.Uint64("game_id", g.GameID), slog.Any("error", err))
	}
	g.Status = domain.GameStatusSettled
	g.Result = result
	g.FinalPnL = &total
	g.EndedAt = &endedAt

	o.logger.Info("fight settled",
		slog.Uint64("game_id", g.GameID),
		slog.String("result", string(result)),
		slog.Float64("pnl", total),
		slog.Int("positions", len(positions)))
	o.notify(ctx, domain.NotifyGameSettled, "Fight settled",
		fmt.Sprintf("game %d: %s, pnl %+.4f%% over %d positions", g.GameID, result, total*100, len(positions)))

	if o.deps.Archiver != nil {
		if err := o.deps.Archiver.ArchiveGame(ctx, *g, positions); err != nil {
			o.logger.Warn("archive failed", slog.Uint64("game_id", g.GameID), slog.Any("error", err))
		}
	}
}

// fail marks the game as errored and records why.
func (o *Orchestrator) fail(ctx context.Context, g *domain.Game, cause error) {
	o.logger.Error("fight failed",
		slog.Uint64("game_id", g.GameID),
		slog.Any("error", cause))
	g.Status = domain.GameStatusError
	g.LastError = cause.Error()
	if err := o.deps.Games.UpdateStatus(ctx, g.GameID, domain.GameStatusError, cause.Error()); err != nil {
		o.logger.Error("record failure failed", slog.Any("error", err))
	}
	o.notify(ctx, domain.NotifyGameError, "Fight error",
		fmt.Sprintf("game %d: %v", g.GameID, cause))
}

func (o *Orchestrator) setStatus(ctx context.Context, g *domain.Game, status domain.GameStatus) {
	g.Status = status
	if err := o.deps.Games.UpdateStatus(ctx, g.GameID, status, ""); err != nil {
		o.logger.Error("record status failed",
			slog.Uint64("game_id", g.GameID),
			slog.String("status", string(status)),
			slog.Any("error", err))
	}
}

// openPosition returns the game's open position, or nil when every
// position is closed.
func (o *Orchestrator) openPosition(ctx context.Context, gameID uint64) (*domain.Position, error) {
	pos, err := o.deps.Positions.Open(ctx, gameID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

func (o *Orchestrator) notify(ctx context.Context, event domain.NotifyEvent, title, message string) {
	if o.deps.Notifier == nil {
		return
	}
	if err := o.deps.Notifier.Notify(ctx, string(event), title, message); err != nil {
		o.logger.Warn("notification failed", slog.String("event", string(event)), slog.Any("error", err))
	}
}

func unrealizedPnL(pos domain.Position, price float64) float64 {
	if pos.EntryPrice == 0 {
		return 0
	}
	return pos.Direction.Sign() * (price - pos.EntryPrice) / pos.EntryPrice
}

func directionByte(d domain.Direction) uint8 {
	if d == domain.DirectionShort {
		return 1
	}
	return 0
}

func poolKey(addr string) string {
	return strings.ToLower(addr)
}
