package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	trading, err := cfg.Trading.ToDomain()
	require.NoError(t, err)
	want := domain.DefaultTradingConfig()
	assert.True(t, trading.Capital.Equal(want.Capital))
	assert.Equal(t, want.Pairs, trading.Pairs)
	assert.Equal(t, want.ScanInterval, trading.ScanInterval)
	assert.Equal(t, domain.PresetBalanced, trading.Preset)
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := writeTOML(t, `
mode = "engine"
log_level = "debug"

[trading]
capital = "250"
min_profit_threshold = 0.0001
pairs = ["SOL/USDC", "RAY/SOL"]
max_concurrent_positions = 3

[trading.scan_interval]
min = "500ms"
max = "900ms"

[price]
provider = "static"
refresh_interval = "5s"
max_age = "30s"

[price.static]
SOL = "150.25"
USDC = "1"
`)
	t.Setenv("MEVBOT_TRADING_CAPITAL", "300")
	t.Setenv("MEVBOT_SERVER_PORT", "9100")
	t.Setenv("MEVBOT_NOTIFY_EVENTS", "position_failed, live_enabled")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "engine", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Trading.Capital.Equal(decimal.NewFromInt(300)), "env wins over file")
	assert.True(t, cfg.Trading.MinProfitThreshold.Equal(decimal.RequireFromString("0.0001")))
	assert.Equal(t, 500*time.Millisecond, cfg.Trading.ScanInterval.Min.Duration)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []string{"position_failed", "live_enabled"}, cfg.Notify.Events)
	assert.Equal(t, 5*time.Second, cfg.Price.RefreshInterval.Duration)

	prices, err := cfg.Price.StaticPrices()
	require.NoError(t, err)
	assert.True(t, prices["SOL"].Equal(decimal.RequireFromString("150.25")))

	trading, err := cfg.Trading.ToDomain()
	require.NoError(t, err)
	assert.Equal(t, []string{"SOL/USDC", "RAY/SOL"}, trading.Pairs)
	assert.Equal(t, 3, trading.MaxConcurrentPositions)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeTOML(t, `
[trading]
capitol = "100"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trading.capitol")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestToDomainPresetAndLiveMode(t *testing.T) {
	cfg := Defaults()
	cfg.Trading.Preset = "conservative"
	cfg.Trading.LiveMode = true

	trading, err := cfg.Trading.ToDomain()
	require.NoError(t, err)
	assert.Equal(t, domain.PresetConservative, trading.Preset)
	assert.True(t, trading.ConfidenceFloor.Equal(decimal.NewFromInt(80)))
	assert.False(t, trading.LiveMode, "live mode waits for the wallet")

	cfg.Trading.Preset = "reckless"
	_, err = cfg.Trading.ToDomain()
	assert.ErrorIs(t, err, domain.ErrUnknownPreset)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "backtest"
	cfg.LogLevel = "loud"
	cfg.Trading.Capital = decimal.Zero
	cfg.Price.Provider = "coingecko"
	cfg.Network.Provider = "fixed"
	cfg.Network.FixedLevel = "EXTREME"
	cfg.Trading.LiveMode = true
	cfg.Notify.TelegramToken = "token"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "backtest"`,
		`unknown log_level "loud"`,
		"capital must be > 0",
		`unknown provider "coingecko"`,
		`unknown fixed_level "EXTREME"`,
		"requires wallet.auto_connect",
		"telegram_token and telegram_chat_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.Supabase.DSN = "postgres://u:p@h/db"
	cfg.Server.APIKey = "secret"
	cfg.Price.Static = map[string]string{"SOL": "150"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Supabase.DSN)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")

	out.Price.Static["SOL"] = "1"
	out.Server.CORSOrigins[0] = "evil"
	assert.Equal(t, "150", cfg.Price.Static["SOL"])
	assert.Equal(t, "http://localhost:3000", cfg.Server.CORSOrigins[0])
	assert.Equal(t, "0xdeadbeef", cfg.Wallet.PrivateKey)
}
