package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// envPrefix namespaces every environment override.
const envPrefix = "MEVBOT_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MEVBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg, os.Getenv)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from MEVBOT_* variables that are
// set and non-empty. Secrets are meant to arrive this way rather than through
// the TOML file.
func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	e := envReader{getenv: getenv}

	// ── Trading ──
	e.setString(&cfg.Trading.Preset, "TRADING_PRESET")
	e.setDecimal(&cfg.Trading.Capital, "TRADING_CAPITAL")
	e.setDecimal(&cfg.Trading.MinProfitThreshold, "TRADING_MIN_PROFIT_THRESHOLD")
	e.setDecimal(&cfg.Trading.MaxPositionSizePercent, "TRADING_MAX_POSITION_SIZE_PERCENT")
	e.setDecimal(&cfg.Trading.PerTradeCap, "TRADING_PER_TRADE_CAP")
	e.setInt64(&cfg.Trading.MaxGasPrice, "TRADING_MAX_GAS_PRICE")
	e.setDecimal(&cfg.Trading.SlippageTolerance, "TRADING_SLIPPAGE_TOLERANCE")
	e.setList(&cfg.Trading.TargetTokens, "TRADING_TARGET_TOKENS")
	e.setList(&cfg.Trading.Pairs, "TRADING_PAIRS")
	e.setBool(&cfg.Trading.LiveMode, "TRADING_LIVE_MODE")
	e.setDecimal(&cfg.Trading.ConfidenceFloor, "TRADING_CONFIDENCE_FLOOR")
	e.setInt(&cfg.Trading.MaxConcurrentPositions, "TRADING_MAX_CONCURRENT_POSITIONS")
	e.setDecimal(&cfg.Trading.DemoSuccessRate, "TRADING_DEMO_SUCCESS_RATE")
	e.setDecimal(&cfg.Trading.LiveSuccessRate, "TRADING_LIVE_SUCCESS_RATE")
	e.setDecimal(&cfg.Trading.FallbackBasePrice, "TRADING_FALLBACK_BASE_PRICE")

	// ── Price ──
	e.setString(&cfg.Price.Provider, "PRICE_PROVIDER")
	e.setString(&cfg.Price.BaseURL, "PRICE_BASE_URL")
	e.setString(&cfg.Price.APIKey, "PRICE_API_KEY")
	e.setDuration(&cfg.Price.RefreshInterval, "PRICE_REFRESH_INTERVAL")
	e.setDuration(&cfg.Price.MaxAge, "PRICE_MAX_AGE")

	// ── Network ──
	e.setString(&cfg.Network.Provider, "NETWORK_PROVIDER")
	e.setString(&cfg.Network.RPCURL, "NETWORK_RPC_URL")
	e.setString(&cfg.Network.FixedLevel, "NETWORK_FIXED_LEVEL")

	// ── Wallet ──
	e.setString(&cfg.Wallet.PrivateKey, "WALLET_PRIVATE_KEY")
	e.setString(&cfg.Wallet.EncryptedKeyPath, "WALLET_ENCRYPTED_KEY_PATH")
	e.setString(&cfg.Wallet.KeyPassword, "WALLET_KEY_PASSWORD")
	e.setString(&cfg.Wallet.RPCURL, "WALLET_RPC_URL")
	e.setBool(&cfg.Wallet.AutoConnect, "WALLET_AUTO_CONNECT")

	// ── Supabase ──
	e.setBool(&cfg.Supabase.Enabled, "SUPABASE_ENABLED")
	e.setString(&cfg.Supabase.DSN, "SUPABASE_DSN")
	e.setString(&cfg.Supabase.DSN, "DATABASE_URL") // compatibility alias
	e.setString(&cfg.Supabase.Host, "SUPABASE_HOST")
	e.setInt(&cfg.Supabase.Port, "SUPABASE_PORT")
	e.setString(&cfg.Supabase.Database, "SUPABASE_DATABASE")
	e.setString(&cfg.Supabase.User, "SUPABASE_USER")
	e.setString(&cfg.Supabase.Password, "SUPABASE_PASSWORD")
	e.setString(&cfg.Supabase.SSLMode, "SUPABASE_SSL_MODE")
	e.setInt(&cfg.Supabase.PoolMaxConns, "SUPABASE_POOL_MAX_CONNS")
	e.setInt(&cfg.Supabase.PoolMinConns, "SUPABASE_POOL_MIN_CONNS")
	e.setBool(&cfg.Supabase.RunMigrations, "SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	e.setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	e.setString(&cfg.Redis.Addr, "REDIS_ADDR")
	e.setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	e.setInt(&cfg.Redis.DB, "REDIS_DB")
	e.setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	e.setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	e.setString(&cfg.Redis.KeyPrefix, "REDIS_KEY_PREFIX")

	// ── S3 ──
	e.setBool(&cfg.S3.Enabled, "S3_ENABLED")
	e.setString(&cfg.S3.Endpoint, "S3_ENDPOINT")
	e.setString(&cfg.S3.Region, "S3_REGION")
	e.setString(&cfg.S3.Bucket, "S3_BUCKET")
	e.setString(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	e.setString(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	e.setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	e.setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")
	e.setString(&cfg.S3.Prefix, "S3_PREFIX")

	// ── Server ──
	e.setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	e.setInt(&cfg.Server.Port, "SERVER_PORT")
	e.setList(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	e.setString(&cfg.Server.APIKey, "SERVER_API_KEY")
	e.setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")

	// ── Notify ──
	e.setString(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	e.setString(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	e.setString(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	e.setList(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Archive ──
	e.setDuration(&cfg.Archive.Interval, "ARCHIVE_INTERVAL")
	e.setInt(&cfg.Archive.BatchSize, "ARCHIVE_BATCH_SIZE")

	// ── Top-level ──
	e.setString(&cfg.Mode, "MODE")
	e.setString(&cfg.LogLevel, "LOG_LEVEL")
	e.setString(&cfg.LogFile, "LOG_FILE")
}

// envReader holds typed setters. Each only mutates the target when the
// prefixed variable is present and parses.
type envReader struct {
	getenv func(string) string
}

func (e envReader) get(key string) string {
	return strings.TrimSpace(e.getenv(envPrefix + key))
}

func (e envReader) setString(dst *string, key string) {
	if v := e.get(key); v != "" {
		*dst = v
	}
}

func (e envReader) setInt(dst *int, key string) {
	if v := e.get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func (e envReader) setInt64(dst *int64, key string) {
	if v := e.get(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func (e envReader) setDecimal(dst *decimal.Decimal, key string) {
	if v := e.get(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
		}
	}
}

func (e envReader) setBool(dst *bool, key string) {
	if v := e.get(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func (e envReader) setDuration(dst *duration, key string) {
	if v := e.get(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func (e envReader) setList(dst *[]string, key string) {
	v := e.get(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
