// Package config defines the top-level configuration for the MEV bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MEVBOT_* environment variables.
type Config struct {
	Trading  TradingConfig  `toml:"trading"`
	Price    PriceConfig    `toml:"price"`
	Network  NetworkConfig  `toml:"network"`
	Wallet   WalletConfig   `toml:"wallet"`
	Supabase SupabaseConfig `toml:"supabase"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Archive  ArchiveConfig  `toml:"archive"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
	LogFile  string         `toml:"log_file"`
}

// TradingConfig is the startup trading configuration. Decimal fields accept
// TOML strings ("0.00005") or numbers.
type TradingConfig struct {
	// Preset, when set, is applied on top of the explicit values.
	Preset                 string          `toml:"preset"`
	Capital                decimal.Decimal `toml:"capital"`
	MinProfitThreshold     decimal.Decimal `toml:"min_profit_threshold"`
	MaxPositionSizePercent decimal.Decimal `toml:"max_position_size_percent"`
	PerTradeCap            decimal.Decimal `toml:"per_trade_cap"`
	MaxGasPrice            int64           `toml:"max_gas_price"`
	SlippageTolerance      decimal.Decimal `toml:"slippage_tolerance"`
	TargetTokens           []string        `toml:"target_tokens"`
	Pairs                  []string        `toml:"pairs"`
	// LiveMode requests live trading at startup. It takes effect only once
	// the wallet connects.
	LiveMode               bool            `toml:"live_mode"`
	MaxTradeSize           decimal.Decimal `toml:"max_trade_size"`
	MaxLoss                decimal.Decimal `toml:"max_loss"`
	ConfidenceFloor        decimal.Decimal `toml:"confidence_floor"`
	MaxConcurrentPositions int             `toml:"max_concurrent_positions"`
	GasEstimate            decimal.Decimal `toml:"gas_estimate"`
	LiveMinProfitQuote     decimal.Decimal `toml:"live_min_profit_quote"`
	DemoSuccessRate        decimal.Decimal `toml:"demo_success_rate"`
	LiveSuccessRate        decimal.Decimal `toml:"live_success_rate"`
	RejectionFee           decimal.Decimal `toml:"rejection_fee"`
	FallbackBasePrice      decimal.Decimal `toml:"fallback_base_price"`
	BaseToken              string          `toml:"base_token"`
	FrontRunDelay          durationRange   `toml:"front_run_delay"`
	ResolveDelay           durationRange   `toml:"resolve_delay"`
	ScanInterval           durationRange   `toml:"scan_interval"`
	MaxRecentOpportunities int             `toml:"max_recent_opportunities"`
	MaxRecentPositions     int             `toml:"max_recent_positions"`
	OpportunityTTL         duration        `toml:"opportunity_ttl"`
}

// PriceConfig selects and tunes the upstream price feed.
type PriceConfig struct {
	// Provider is "jupiter" or "static".
	Provider        string            `toml:"provider"`
	BaseURL         string            `toml:"base_url"`
	APIKey          string            `toml:"api_key"`
	Timeout         duration          `toml:"timeout"`
	RetryCount      int               `toml:"retry_count"`
	RefreshInterval duration          `toml:"refresh_interval"`
	MaxAge          duration          `toml:"max_age"`
	CacheTTL        duration          `toml:"cache_ttl"`
	Mints           map[string]string `toml:"mints"`
	// Static prices in quote currency, used by the "static" provider.
	Static map[string]string `toml:"static"`
}

// NetworkConfig selects the congestion source.
type NetworkConfig struct {
	// Provider is "solana" or "fixed".
	Provider   string   `toml:"provider"`
	RPCURL     string   `toml:"rpc_url"`
	Timeout    duration `toml:"timeout"`
	Samples    int      `toml:"samples"`
	MediumTPS  float64  `toml:"medium_tps"`
	HighTPS    float64  `toml:"high_tps"`
	FixedLevel string   `toml:"fixed_level"`
}

// WalletConfig holds the signing key source and balance RPC.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	RPCURL           string `toml:"rpc_url"`
	Decimals         int32  `toml:"decimals"`
	AutoConnect      bool   `toml:"auto_connect"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	Enabled        bool     `toml:"enabled"`
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	ConnectTimeout duration `toml:"connect_timeout"`
	RunMigrations  bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	ClaimTTL   duration `toml:"claim_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramBaseURL   string   `toml:"telegram_base_url"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ArchiveConfig controls the S3 position archiver.
type ArchiveConfig struct {
	Interval  duration `toml:"interval"`
	BatchSize int      `toml:"batch_size"`
}

// LedgerConfig tunes the event recorder.
type LedgerConfig struct {
	QueueSize        int      `toml:"queue_size"`
	SnapshotInterval duration `toml:"snapshot_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type durationRange struct {
	Min duration `toml:"min"`
	Max duration `toml:"max"`
}

func (r durationRange) toDomain() domain.DurationRange {
	return domain.DurationRange{Min: r.Min.Duration, Max: r.Max.Duration}
}

func fromDomainRange(r domain.DurationRange) durationRange {
	return durationRange{Min: duration{r.Min}, Max: duration{r.Max}}
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	t := domain.DefaultTradingConfig()
	return Config{
		Trading: TradingConfig{
			Capital:                t.Capital,
			MinProfitThreshold:     t.MinProfitThreshold,
			MaxPositionSizePercent: t.MaxPositionSizePercent,
			PerTradeCap:            t.PerTradeCap,
			MaxGasPrice:            t.MaxGasPrice,
			SlippageTolerance:      t.SlippageTolerance,
			TargetTokens:           t.TargetTokens,
			Pairs:                  t.Pairs,
			MaxTradeSize:           t.MaxTradeSize,
			MaxLoss:                t.MaxLoss,
			ConfidenceFloor:        t.ConfidenceFloor,
			MaxConcurrentPositions: t.MaxConcurrentPositions,
			GasEstimate:            t.GasEstimate,
			LiveMinProfitQuote:     t.LiveMinProfitQuote,
			DemoSuccessRate:        t.DemoSuccessRate,
			LiveSuccessRate:        t.LiveSuccessRate,
			RejectionFee:           t.RejectionFee,
			FallbackBasePrice:      t.FallbackBasePrice,
			BaseToken:              t.BaseToken,
			FrontRunDelay:          fromDomainRange(t.FrontRunDelay),
			ResolveDelay:           fromDomainRange(t.ResolveDelay),
			ScanInterval:           fromDomainRange(t.ScanInterval),
			MaxRecentOpportunities: t.MaxRecentOpportunities,
			MaxRecentPositions:     t.MaxRecentPositions,
			OpportunityTTL:         duration{t.OpportunityTTL},
		},
		Price: PriceConfig{
			Provider:        "jupiter",
			BaseURL:         "https://api.jup.ag",
			Timeout:         duration{10 * time.Second},
			RetryCount:      2,
			RefreshInterval: duration{15 * time.Second},
			MaxAge:          duration{time.Minute},
			CacheTTL:        duration{5 * time.Minute},
		},
		Network: NetworkConfig{
			Provider:   "solana",
			RPCURL:     "https://api.mainnet-beta.solana.com",
			Timeout:    duration{10 * time.Second},
			Samples:    5,
			MediumTPS:  1500,
			HighTPS:    3000,
			FixedLevel: string(domain.CongestionLow),
		},
		Wallet: WalletConfig{
			Decimals: 18,
		},
		Supabase: SupabaseConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "postgres",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   2,
			ConnectTimeout: duration{10 * time.Second},
			RunMigrations:  true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "mevbot",
			ClaimTTL:   duration{time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "mevbot-ledger",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"position_completed", "position_failed", "live_enabled", "live_disabled", "bot_started", "bot_stopped"},
		},
		Archive: ArchiveConfig{
			Interval:  duration{5 * time.Minute},
			BatchSize: 500,
		},
		Ledger: LedgerConfig{
			QueueSize:        1024,
			SnapshotInterval: duration{time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// ToDomain converts the trading section into the engine's configuration
// snapshot. Live mode always starts off.
func (t TradingConfig) ToDomain() (domain.TradingConfig, error) {
	out := domain.DefaultTradingConfig()
	out.Capital = t.Capital
	out.MinProfitThreshold = t.MinProfitThreshold
	out.MaxPositionSizePercent = t.MaxPositionSizePercent
	out.PerTradeCap = t.PerTradeCap
	out.MaxGasPrice = t.MaxGasPrice
	out.SlippageTolerance = t.SlippageTolerance
	out.MaxTradeSize = t.MaxTradeSize
	out.MaxLoss = t.MaxLoss
	out.ConfidenceFloor = t.ConfidenceFloor
	out.MaxConcurrentPositions = t.MaxConcurrentPositions
	out.GasEstimate = t.GasEstimate
	out.LiveMinProfitQuote = t.LiveMinProfitQuote
	out.DemoSuccessRate = t.DemoSuccessRate
	out.LiveSuccessRate = t.LiveSuccessRate
	out.RejectionFee = t.RejectionFee
	out.FallbackBasePrice = t.FallbackBasePrice
	out.BaseToken = strings.ToUpper(strings.TrimSpace(t.BaseToken))
	out.FrontRunDelay = t.FrontRunDelay.toDomain()
	out.ResolveDelay = t.ResolveDelay.toDomain()
	out.ScanInterval = t.ScanInterval.toDomain()
	out.MaxRecentOpportunities = t.MaxRecentOpportunities
	out.MaxRecentPositions = t.MaxRecentPositions
	out.OpportunityTTL = t.OpportunityTTL.Duration
	out = out.Apply(domain.ConfigPatch{TargetTokens: t.TargetTokens, Pairs: t.Pairs})
	out.LiveMode = false

	if t.Preset != "" {
		var err error
		if out, err = out.ApplyPreset(t.Preset); err != nil {
			return out, err
		}
	}
	if err := out.Validate(); err != nil {
		return out, err
	}
	return out, nil
}

// StaticPrices parses the static price table.
func (p PriceConfig) StaticPrices() (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(p.Static))
	for sym, raw := range p.Static {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("price.static.%s: %w", sym, err)
		}
		out[strings.ToUpper(sym)] = d
	}
	return out, nil
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"engine": true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: engine, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if _, err := c.Trading.ToDomain(); err != nil {
		errs = append(errs, "trading: "+err.Error())
	}

	switch strings.ToLower(c.Price.Provider) {
	case "jupiter":
		if c.Price.BaseURL == "" {
			errs = append(errs, "price: base_url must not be empty for the jupiter provider")
		}
	case "static":
		if len(c.Price.Static) == 0 {
			errs = append(errs, "price: static prices must be set for the static provider")
		}
		if _, err := c.Price.StaticPrices(); err != nil {
			errs = append(errs, "price: "+err.Error())
		}
	default:
		errs = append(errs, fmt.Sprintf("price: unknown provider %q (valid: jupiter, static)", c.Price.Provider))
	}
	if c.Price.RefreshInterval.Duration <= 0 {
		errs = append(errs, "price: refresh_interval must be > 0")
	}
	if c.Price.MaxAge.Duration < c.Price.RefreshInterval.Duration {
		errs = append(errs, "price: max_age must be >= refresh_interval")
	}

	switch strings.ToLower(c.Network.Provider) {
	case "solana":
		if c.Network.RPCURL == "" {
			errs = append(errs, "network: rpc_url must not be empty for the solana provider")
		}
		if c.Network.HighTPS <= c.Network.MediumTPS {
			errs = append(errs, "network: high_tps must exceed medium_tps")
		}
	case "fixed":
		if !domain.CongestionLevel(strings.ToUpper(c.Network.FixedLevel)).Valid() {
			errs = append(errs, fmt.Sprintf("network: unknown fixed_level %q (valid: LOW, MEDIUM, HIGH)", c.Network.FixedLevel))
		}
	default:
		errs = append(errs, fmt.Sprintf("network: unknown provider %q (valid: solana, fixed)", c.Network.Provider))
	}

	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}
	if c.Wallet.AutoConnect && c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		errs = append(errs, "wallet: auto_connect needs private_key or encrypted_key_path")
	}
	if c.Trading.LiveMode && !c.Wallet.AutoConnect {
		errs = append(errs, "trading: live_mode at startup requires wallet.auto_connect")
	}
	if c.Wallet.Decimals < 0 {
		errs = append(errs, "wallet: decimals must be >= 0")
	}

	if c.Supabase.Enabled {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 || c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must be in [0, pool_max_conns]")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.Archive.Interval.Duration <= 0 || c.Archive.BatchSize < 1 {
			errs = append(errs, "archive: interval and batch_size must be positive")
		}
	}

	if c.Server.Enabled || strings.EqualFold(c.Mode, "server") {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
			errs = append(errs, "server: rate_limit_window must be > 0 when rate_limit is set")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if c.Ledger.QueueSize < 1 {
		errs = append(errs, "ledger: queue_size must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
