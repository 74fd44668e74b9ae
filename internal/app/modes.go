package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MortalCoin/mortalcoin-alith-bot/internal/chain"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/config"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/domain"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/game"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/pricefeed"
)

// historyLimit caps how many past games the history mode prints.
const historyLimit = 20

// BotMode runs the full trading loop: authenticate against the backend,
// subscribe to its notification stream, and hand control to the game
// orchestrator until the context is cancelled.
func (a *App) BotMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting bot mode",
		slog.String("wallet", deps.Wallet.Address().Hex()),
	)

	if err := deps.Backend.Authenticate(ctx); err != nil {
		return fmt.Errorf("app: backend auth: %w", err)
	}

	var events <-chan domain.BackendEvent
	if deps.WS != nil {
		if err := deps.WS.Connect(ctx); err != nil {
			return fmt.Errorf("app: backend ws: %w", err)
		}
		defer deps.WS.Close()
		events = deps.WS.Events()
	}

	orch := game.New(*a.cfg, deps.Wallet.Address(), game.Deps{
		Chain:         deps.Chain,
		Backend:       deps.Backend,
		Engine:        deps.Engine,
		Games:         deps.Games,
		Positions:     deps.Positions,
		Notifier:      deps.Notifier,
		Archiver:      deps.Archiver,
		Prices:        deps.Prices,
		Locks:         deps.Locks,
		BackendEvents: events,
		NewMarket:     a.marketFactory(deps),
		NewWatcher:    a.watcherFactory(deps),
		Logger:        a.logger,
	})

	return orch.Run(ctx)
}

// MonitorMode watches the configured pools and the backend fight queue
// without staking anything. Useful for validating config and connectivity
// before letting the bot trade.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode",
		slog.Int("pools", len(a.cfg.Pools)),
	)

	g, ctx := errgroup.WithContext(ctx)

	for _, pool := range a.cfg.Pools {
		feed := pricefeed.New(deps.Chain, a.backendPrices(deps), pool, a.cfg.Feed, a.logger)
		label := pool.Label
		g.Go(func() error {
			return feed.Run(ctx)
		})
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case s, ok := <-feed.Samples():
					if !ok {
						return nil
					}
					a.logger.InfoContext(ctx, "price sample",
						slog.String("pool", label),
						slog.Float64("price", s.Price),
					)
				}
			}
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Game.DiscoveryInterval.Duration)
		defer ticker.Stop()
		for {
			fights, err := deps.Backend.AvailableGames(ctx)
			if err != nil {
				a.logger.WarnContext(ctx, "fight listing failed",
					slog.Any("error", err))
			} else {
				for _, f := range fights {
					a.logger.InfoContext(ctx, "open fight",
						slog.String("fight_id", f.ID),
						slog.String("game_id", f.GameID.String()),
						slog.String("pool", f.Pool),
						slog.String("bet", f.BetAmount),
					)
				}
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})

	return g.Wait()
}

// HistoryMode prints aggregate stats and the most recent settled games, then
// exits. With an archive configured it also counts the archived game objects.
func (a *App) HistoryMode(ctx context.Context, deps *Dependencies) error {
	// The bot address comes from the wallet when one is configured, and
	// otherwise from the most recent game record. Game records store the
	// address lowercased.
	var bot string
	if deps.Wallet != nil {
		bot = strings.ToLower(deps.Wallet.Address().Hex())
	}

	games, err := deps.Games.ListHistory(ctx, bot, domain.ListOpts{Limit: historyLimit})
	if err != nil {
		return fmt.Errorf("app: list history: %w", err)
	}
	if bot == "" && len(games) > 0 {
		bot = games[0].Bot
	}

	stats, err := deps.Stats.Stats(ctx, bot)
	if err != nil {
		return fmt.Errorf("app: stats: %w", err)
	}

	fmt.Printf("bot %s: %d games (%d won, %d lost, %d drawn), total pnl %+.6f\n",
		bot, stats.Games, stats.Wins, stats.Losses, stats.Draws, stats.TotalPnL)
	fmt.Printf("%d positions, %.1f%% profitable\n\n", stats.Positions, stats.PosWinRate*100)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "GAME\tPOOL\tRESULT\tPNL\tENDED")
	for _, g := range games {
		ended, pnl := "-", "-"
		if g.EndedAt != nil {
			ended = g.EndedAt.Format(time.RFC3339)
		}
		if g.FinalPnL != nil {
			pnl = fmt.Sprintf("%+.6f", *g.FinalPnL)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			g.GameID, g.Pool, g.Result, pnl, ended)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("app: write history: %w", err)
	}

	if deps.ArchiveReader != nil {
		infos, err := deps.ArchiveReader.List(ctx, "games/")
		if err != nil {
			a.logger.WarnContext(ctx, "archive listing failed", slog.Any("error", err))
			return nil
		}
		fmt.Printf("\n%d archived games\n", len(infos))
	}
	return nil
}

// marketFactory builds per-pool price feeds for the orchestrator.
func (a *App) marketFactory(deps *Dependencies) game.MarketFactory {
	return func(pool config.PoolConfig) game.Market {
		return pricefeed.New(deps.Chain, a.backendPrices(deps), pool, a.cfg.Feed, a.logger)
	}
}

// watcherFactory builds per-game chain watchers for the orchestrator.
func (a *App) watcherFactory(deps *Dependencies) game.WatcherFactory {
	return func(gameID uint64) game.GameWatcher {
		interval := a.cfg.Chain.PollInterval.Duration
		if interval <= 0 {
			interval = 2 * time.Second
		}
		return chain.NewWatcher(deps.Chain, gameID, interval, a.logger)
	}
}

// backendPrices returns the backend as an alternate price source when the
// config prefers it over on-chain reserves.
func (a *App) backendPrices(deps *Dependencies) pricefeed.BackendPriceSource {
	if a.cfg.Backend.UsePrices {
		return deps.Backend
	}
	return nil
}
