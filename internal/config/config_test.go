package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "monitor"
log_level = "debug"

[chain]
rpc_url = "https://rpc.example.org"
chain_id = 8453

[game]
duration = "90s"
max_bet_wei = "250000000000000000"

[[pools]]
address = "0x00000000000000000000000000000000000000aa"
label = "WETH/USDC"
stable_side = "token1"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "https://rpc.example.org", cfg.Chain.RPCURL)
	assert.Equal(t, int64(8453), cfg.Chain.ChainID)
	assert.Equal(t, 90*time.Second, cfg.Game.Duration.Duration)

	// Untouched sections keep their defaults.
	assert.Equal(t, 2*time.Second, cfg.Feed.PollInterval.Duration)
	assert.Equal(t, "momentum", cfg.Decision.Engine)
	assert.Equal(t, 5432, cfg.Database.Port)

	require.Len(t, cfg.Pools, 1)
	assert.Equal(t, "token1", cfg.Pools[0].StableSide)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[chain]
rpc_url = "https://rpc.example.org"
`)

	t.Setenv("MORTALBOT_CHAIN_RPC_URL", "https://override.example.org")
	t.Setenv("MORTALBOT_WALLET_PRIVATE_KEY", "abc123")
	t.Setenv("MORTALBOT_GAME_DURATION", "45s")
	t.Setenv("MORTALBOT_NOTIFY_EVENTS", "game_settled, game_error")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://override.example.org", cfg.Chain.RPCURL)
	assert.Equal(t, "abc123", cfg.Wallet.PrivateKey)
	assert.Equal(t, 45*time.Second, cfg.Game.Duration.Duration)
	assert.Equal(t, []string{"game_settled", "game_error"}, cfg.Notify.Events)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func validTestConfig() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "aa"
	cfg.Chain.GameContract = "0x00000000000000000000000000000000000000cc"
	cfg.Backend.BaseURL = "https://backend.example.org"
	cfg.Backend.AuthToken = "token"
	cfg.Pools = []PoolConfig{{Address: "0x00000000000000000000000000000000000000aa"}}
	return cfg
}

func TestValidate_OK(t *testing.T) {
	cfg := validTestConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := validTestConfig()
	cfg.Mode = "racing"
	cfg.Chain.RPCURL = ""
	cfg.Backend.AuthToken = ""
	cfg.Pools[0].StableSide = "token7"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "rpc_url")
	assert.Contains(t, err.Error(), "auth_token")
	assert.Contains(t, err.Error(), "stable_side")
}

func TestValidate_BotModeRequiresKey(t *testing.T) {
	cfg := validTestConfig()
	cfg.Wallet.PrivateKey = ""
	cfg.Wallet.EncryptedKeyPath = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private_key or encrypted_key_path")
}

func TestValidate_HistoryModeRelaxed(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "history"
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := validTestConfig()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Backend.AuthToken = "secret-token"
	cfg.Database.Password = "hunter2"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Decision.APIKey = "sk-xyz"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Backend.AuthToken)
	assert.Equal(t, "***", red.Database.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Decision.APIKey)

	// Non-secret fields survive, original is untouched.
	assert.Equal(t, cfg.Chain.RPCURL, red.Chain.RPCURL)
	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)

	// Empty secrets stay empty rather than becoming placeholders.
	empty := Defaults()
	assert.Empty(t, RedactedConfig(&empty).Wallet.PrivateKey)
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestGameConfig_MaxBet(t *testing.T) {
	g := GameConfig{MaxBetWei: "1000000000000000000"}
	n, ok := g.MaxBet()
	require.True(t, ok)
	assert.Equal(t, "1000000000000000000", n.String())

	g.MaxBetWei = ""
	n, ok = g.MaxBet()
	assert.True(t, ok)
	assert.Nil(t, n)

	g.MaxBetWei = "-5"
	_, ok = g.MaxBet()
	assert.False(t, ok)
}
