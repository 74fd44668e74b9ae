package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MortalCoin/mortalcoin-alith-bot/internal/backend"
	s3blob "github.com/MortalCoin/mortalcoin-alith-bot/internal/blob/s3"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/cache/redis"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/chain"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/config"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/crypto"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/decision"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/domain"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/notify"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/store/postgres"
)

// Dependencies bundles every concrete dependency the application modes need.
// It is constructed by Wire and torn down by the returned cleanup function.
// Optional dependencies (Prices, Locks, Archiver, ArchiveReader) are nil when
// the corresponding backing service is not configured.
type Dependencies struct {
	Wallet  *crypto.Wallet
	Chain   *chain.Client
	Backend *backend.Client
	WS      *backend.WSClient
	Engine  domain.DecisionEngine

	Games     domain.GameStore
	Positions domain.PositionStore
	Stats     domain.StatsReader

	Prices domain.PriceCache
	Locks  domain.LockManager

	Archiver      domain.GameArchiver
	ArchiveReader *s3blob.Reader

	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that require persistence.
func needsPostgres(mode string) bool {
	switch mode {
	case "bot", "history":
		return true
	default:
		return false
	}
}

// needsWallet returns true for modes that sign transactions.
func needsWallet(mode string) bool {
	return mode == "bot"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Wallet and chain client ---
	var wallet *crypto.Wallet
	if needsWallet(cfg.Mode) {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
		}
		wallet, err = crypto.NewWallet(key, cfg.Chain.ChainID)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet: %w", err)
		}
		deps.Wallet = wallet
	}

	chainClient, err := chain.NewClient(cfg.Chain, wallet, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain client: %w", err)
	}
	closers = append(closers, chainClient.Close)
	deps.Chain = chainClient

	// --- Backend REST + WebSocket ---
	deps.Backend = backend.NewClient(cfg.Backend, logger)
	if cfg.Backend.WSURL != "" {
		deps.WS = backend.NewWSClient(cfg.Backend.WSURL, deps.Backend, logger)
	}

	// --- Decision engine ---
	engine, err := decision.New(cfg.Decision, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: decision engine: %w", err)
	}
	deps.Engine = engine

	// --- PostgreSQL (only for modes that need persistence) ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, cfg.Database)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Games = postgres.NewGameStore(pool)
		positions := postgres.NewPositionStore(pool)
		deps.Positions = positions
		deps.Stats = positions
	}

	// --- Redis (optional; empty addr disables) ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Prices = redis.NewPriceCache(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
	}

	// --- S3 game archive (optional; empty bucket disables) ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, cfg.S3)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewGameArchiver(s3Client, logger)
		deps.ArchiveReader = s3blob.NewReader(s3Client)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
