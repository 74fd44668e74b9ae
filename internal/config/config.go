// Package config defines the top-level configuration for the mortalcoin bot
// and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MORTALBOT_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Chain    ChainConfig    `toml:"chain"`
	Backend  BackendConfig  `toml:"backend"`
	Feed     FeedConfig     `toml:"feed"`
	Decision DecisionConfig `toml:"decision"`
	Game     GameConfig     `toml:"game"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Pools    []PoolConfig   `toml:"pools"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the bot's signing key material.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds RPC endpoint and contract parameters.
type ChainConfig struct {
	RPCURL          string   `toml:"rpc_url"`
	ChainID         int64    `toml:"chain_id"`
	GameContract    string   `toml:"game_contract"`
	GasLimitCap     uint64   `toml:"gas_limit_cap"`
	ReceiptTimeout  Duration `toml:"receipt_timeout"`
	PollInterval    Duration `toml:"poll_interval"`
	MaxGasPriceGwei float64  `toml:"max_gas_price_gwei"`
}

// BackendConfig holds the game backend API parameters.
type BackendConfig struct {
	BaseURL     string   `toml:"base_url"`
	WSURL       string   `toml:"ws_url"`
	AuthToken   string   `toml:"auth_token"` // identity token exchanged for a JWT pair
	HTTPTimeout Duration `toml:"http_timeout"`
	UsePrices   bool     `toml:"use_prices"` // prefer backend pool prices over on-chain reserves
}

// PoolConfig describes one Uniswap V2 pair the bot may fight on.
type PoolConfig struct {
	Address    string `toml:"address"`
	Label      string `toml:"label"`
	StableSide string `toml:"stable_side"` // "auto", "token0", or "token1"
}

// FeedConfig holds price feed parameters.
type FeedConfig struct {
	PollInterval      Duration `toml:"poll_interval"`
	WindowSize        int      `toml:"window_size"`
	WindowMaxAge      Duration `toml:"window_max_age"`
	StaleAfter        Duration `toml:"stale_after"`
	DegradedFailures  int      `toml:"degraded_failures"`
	DegradedWindowSec int      `toml:"degraded_window_sec"`
}

// DecisionConfig holds decision-engine parameters.
type DecisionConfig struct {
	Engine      string   `toml:"engine"` // "llm" or "momentum"
	APIURL      string   `toml:"api_url"`
	APIKey      string   `toml:"api_key"`
	Model       string   `toml:"model"`
	Timeout     Duration `toml:"timeout"`
	MaxFailures int      `toml:"max_failures"` // consecutive failures before the game errors out
}

// GameConfig holds lifecycle timing and stake parameters.
type GameConfig struct {
	Duration          Duration `toml:"duration"`
	MaxBetWei         string   `toml:"max_bet_wei"`
	DiscoveryInterval Duration `toml:"discovery_interval"`
	SignatureWait     Duration `toml:"signature_wait"`
	ForceCloseMargin  Duration `toml:"force_close_margin"`
	DecideInterval    Duration `toml:"decide_interval"`
	RetryAttempts     int      `toml:"retry_attempts"`
	RetryBackoff      Duration `toml:"retry_backoff"`
	RetryBackoffMax   Duration `toml:"retry_backoff_max"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Leave Addr empty to run
// without Redis.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the game
// archive. Leave Bucket empty to disable archiving.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MaxBet parses MaxBetWei into a big integer. The zero value (empty string)
// means no cap and returns nil, true.
func (g GameConfig) MaxBet() (*big.Int, bool) {
	if strings.TrimSpace(g.MaxBetWei) == "" {
		return nil, true
	}
	n, ok := new(big.Int).SetString(g.MaxBetWei, 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

// Duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:          "http://localhost:8545",
			ChainID:         1,
			GasLimitCap:     1_000_000,
			ReceiptTimeout:  Duration{2 * time.Minute},
			PollInterval:    Duration{2 * time.Second},
			MaxGasPriceGwei: 300,
		},
		Backend: BackendConfig{
			HTTPTimeout: Duration{15 * time.Second},
			UsePrices:   false,
		},
		Feed: FeedConfig{
			PollInterval:      Duration{2 * time.Second},
			WindowSize:        120,
			WindowMaxAge:      Duration{5 * time.Minute},
			StaleAfter:        Duration{10 * time.Second},
			DegradedFailures:  5,
			DegradedWindowSec: 60,
		},
		Decision: DecisionConfig{
			Engine:      "momentum",
			Model:       "gpt-4o-mini",
			Timeout:     Duration{5 * time.Second},
			MaxFailures: 3,
		},
		Game: GameConfig{
			Duration:          Duration{60 * time.Second},
			MaxBetWei:         "100000000000000000", // 0.1 ether
			DiscoveryInterval: Duration{5 * time.Second},
			SignatureWait:     Duration{20 * time.Second},
			ForceCloseMargin:  Duration{5 * time.Second},
			DecideInterval:    Duration{3 * time.Second},
			RetryAttempts:     3,
			RetryBackoff:      Duration{500 * time.Millisecond},
			RetryBackoffMax:   Duration{5 * time.Second},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "mortalbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "",
			DB:         0,
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "",
			Region:         "us-east-1",
			Bucket:         "",
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"game_joined", "game_settled", "game_error"},
		},
		Mode:     "bot",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"bot":     true,
	"monitor": true,
	"history": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validStableSides enumerates the accepted values for PoolConfig.StableSide.
var validStableSides = map[string]bool{
	"":       true, // treated as auto
	"auto":   true,
	"token0": true,
	"token1": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: bot, monitor, history)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet — a signing key is required for bot mode.
	if strings.ToLower(c.Mode) == "bot" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode bot")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if strings.ToLower(c.Mode) != "history" && c.Chain.GameContract == "" {
		errs = append(errs, "chain: game_contract must not be empty")
	}
	if c.Chain.ReceiptTimeout.Duration <= 0 {
		errs = append(errs, "chain: receipt_timeout must be > 0")
	}

	// Backend
	if strings.ToLower(c.Mode) != "history" {
		if c.Backend.BaseURL == "" {
			errs = append(errs, "backend: base_url must not be empty")
		}
		if c.Backend.AuthToken == "" {
			errs = append(errs, "backend: auth_token must be set")
		}
	}

	// Pools
	if strings.ToLower(c.Mode) != "history" && len(c.Pools) == 0 {
		errs = append(errs, "pools: at least one pool must be configured")
	}
	for i, p := range c.Pools {
		if p.Address == "" {
			errs = append(errs, fmt.Sprintf("pools[%d]: address must not be empty", i))
		}
		if !validStableSides[strings.ToLower(p.StableSide)] {
			errs = append(errs, fmt.Sprintf("pools[%d]: stable_side must be auto, token0 or token1, got %q", i, p.StableSide))
		}
	}

	// Feed
	if c.Feed.PollInterval.Duration <= 0 {
		errs = append(errs, "feed: poll_interval must be > 0")
	}
	if c.Feed.WindowSize < 2 {
		errs = append(errs, "feed: window_size must be >= 2")
	}
	if c.Feed.StaleAfter.Duration <= 0 {
		errs = append(errs, "feed: stale_after must be > 0")
	}

	// Decision
	switch strings.ToLower(c.Decision.Engine) {
	case "momentum":
	case "llm":
		if c.Decision.APIURL == "" {
			errs = append(errs, "decision: api_url is required for the llm engine")
		}
	default:
		errs = append(errs, fmt.Sprintf("decision: unknown engine %q (valid: llm, momentum)", c.Decision.Engine))
	}
	if c.Decision.Timeout.Duration <= 0 {
		errs = append(errs, "decision: timeout must be > 0")
	}
	if c.Decision.MaxFailures < 1 {
		errs = append(errs, "decision: max_failures must be >= 1")
	}

	// Game
	if c.Game.Duration.Duration <= 0 {
		errs = append(errs, "game: duration must be > 0")
	}
	if c.Game.ForceCloseMargin.Duration <= 0 || c.Game.ForceCloseMargin.Duration >= c.Game.Duration.Duration {
		errs = append(errs, "game: force_close_margin must be > 0 and shorter than duration")
	}
	if c.Game.RetryAttempts < 1 {
		errs = append(errs, "game: retry_attempts must be >= 1")
	}
	if _, ok := c.Game.MaxBet(); !ok {
		errs = append(errs, fmt.Sprintf("game: max_bet_wei %q is not a valid integer", c.Game.MaxBetWei))
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis — optional, but sane when set.
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — optional, but credentials and region required when a bucket is set.
	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region must not be empty when a bucket is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
