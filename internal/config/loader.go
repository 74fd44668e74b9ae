package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MORTALBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MORTALBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "MORTALBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "MORTALBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "MORTALBOT_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "MORTALBOT_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "MORTALBOT_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.GameContract, "MORTALBOT_CHAIN_GAME_CONTRACT")
	setUint64(&cfg.Chain.GasLimitCap, "MORTALBOT_CHAIN_GAS_LIMIT_CAP")
	setDuration(&cfg.Chain.ReceiptTimeout, "MORTALBOT_CHAIN_RECEIPT_TIMEOUT")
	setDuration(&cfg.Chain.PollInterval, "MORTALBOT_CHAIN_POLL_INTERVAL")
	setFloat64(&cfg.Chain.MaxGasPriceGwei, "MORTALBOT_CHAIN_MAX_GAS_PRICE_GWEI")

	// ── Backend ──
	setStr(&cfg.Backend.BaseURL, "MORTALBOT_BACKEND_BASE_URL")
	setStr(&cfg.Backend.WSURL, "MORTALBOT_BACKEND_WS_URL")
	setStr(&cfg.Backend.AuthToken, "MORTALBOT_BACKEND_AUTH_TOKEN")
	setDuration(&cfg.Backend.HTTPTimeout, "MORTALBOT_BACKEND_HTTP_TIMEOUT")
	setBool(&cfg.Backend.UsePrices, "MORTALBOT_BACKEND_USE_PRICES")

	// ── Feed ──
	setDuration(&cfg.Feed.PollInterval, "MORTALBOT_FEED_POLL_INTERVAL")
	setInt(&cfg.Feed.WindowSize, "MORTALBOT_FEED_WINDOW_SIZE")
	setDuration(&cfg.Feed.WindowMaxAge, "MORTALBOT_FEED_WINDOW_MAX_AGE")
	setDuration(&cfg.Feed.StaleAfter, "MORTALBOT_FEED_STALE_AFTER")
	setInt(&cfg.Feed.DegradedFailures, "MORTALBOT_FEED_DEGRADED_FAILURES")
	setInt(&cfg.Feed.DegradedWindowSec, "MORTALBOT_FEED_DEGRADED_WINDOW_SEC")

	// ── Decision ──
	setStr(&cfg.Decision.Engine, "MORTALBOT_DECISION_ENGINE")
	setStr(&cfg.Decision.APIURL, "MORTALBOT_DECISION_API_URL")
	setStr(&cfg.Decision.APIKey, "MORTALBOT_DECISION_API_KEY")
	setStr(&cfg.Decision.Model, "MORTALBOT_DECISION_MODEL")
	setDuration(&cfg.Decision.Timeout, "MORTALBOT_DECISION_TIMEOUT")
	setInt(&cfg.Decision.MaxFailures, "MORTALBOT_DECISION_MAX_FAILURES")

	// ── Game ──
	setDuration(&cfg.Game.Duration, "MORTALBOT_GAME_DURATION")
	setStr(&cfg.Game.MaxBetWei, "MORTALBOT_GAME_MAX_BET_WEI")
	setDuration(&cfg.Game.DiscoveryInterval, "MORTALBOT_GAME_DISCOVERY_INTERVAL")
	setDuration(&cfg.Game.SignatureWait, "MORTALBOT_GAME_SIGNATURE_WAIT")
	setDuration(&cfg.Game.ForceCloseMargin, "MORTALBOT_GAME_FORCE_CLOSE_MARGIN")
	setDuration(&cfg.Game.DecideInterval, "MORTALBOT_GAME_DECIDE_INTERVAL")
	setInt(&cfg.Game.RetryAttempts, "MORTALBOT_GAME_RETRY_ATTEMPTS")
	setDuration(&cfg.Game.RetryBackoff, "MORTALBOT_GAME_RETRY_BACKOFF")
	setDuration(&cfg.Game.RetryBackoffMax, "MORTALBOT_GAME_RETRY_BACKOFF_MAX")

	// ── Database ──
	setStr(&cfg.Database.DSN, "MORTALBOT_DATABASE_DSN")
	setStr(&cfg.Database.Host, "MORTALBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "MORTALBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "MORTALBOT_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "MORTALBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "MORTALBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "MORTALBOT_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "MORTALBOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "MORTALBOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "MORTALBOT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MORTALBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MORTALBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MORTALBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MORTALBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MORTALBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MORTALBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MORTALBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MORTALBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "MORTALBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MORTALBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MORTALBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MORTALBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MORTALBOT_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MORTALBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MORTALBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MORTALBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MORTALBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MORTALBOT_MODE")
	setStr(&cfg.LogLevel, "MORTALBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
