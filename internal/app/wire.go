package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/mevbot/internal/blob/s3"
	"github.com/alanyoungcy/mevbot/internal/cache/memory"
	"github.com/alanyoungcy/mevbot/internal/cache/redis"
	"github.com/alanyoungcy/mevbot/internal/config"
	"github.com/alanyoungcy/mevbot/internal/crypto"
	"github.com/alanyoungcy/mevbot/internal/domain"
	"github.com/alanyoungcy/mevbot/internal/executor"
	"github.com/alanyoungcy/mevbot/internal/notify"
	"github.com/alanyoungcy/mevbot/internal/platform/jupiter"
	"github.com/alanyoungcy/mevbot/internal/platform/solana"
	"github.com/alanyoungcy/mevbot/internal/server/handler"
	"github.com/alanyoungcy/mevbot/internal/service"
	"github.com/alanyoungcy/mevbot/internal/store/postgres"
	"github.com/alanyoungcy/mevbot/internal/wallet"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Stores and the archiver are nil when their backend is
// disabled.
type Dependencies struct {
	// Stores
	OpportunityStore domain.OpportunityStore
	PositionStore    domain.PositionStore
	StatsStore       domain.StatsStore
	AuditStore       domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	Claimer     domain.Claimer

	// Upstreams
	PriceFeed  domain.PriceFeed
	Congestion domain.CongestionSource
	Wallet     *wallet.Provider

	// Blob storage
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Health checks by dependency name.
	Checks map[string]handler.Check
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
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- PostgreSQL ---
	if cfg.Supabase.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Supabase.DSN,
			Host:           cfg.Supabase.Host,
			Port:           cfg.Supabase.Port,
			Database:       cfg.Supabase.Database,
			User:           cfg.Supabase.User,
			Password:       cfg.Supabase.Password,
			SSLMode:        cfg.Supabase.SSLMode,
			MaxConns:       cfg.Supabase.PoolMaxConns,
			MinConns:       cfg.Supabase.PoolMinConns,
			ConnectTimeout: cfg.Supabase.ConnectTimeout.Duration,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		deps.OpportunityStore = postgres.NewOpportunityStore(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.StatsStore = postgres.NewStatsStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pool.Ping
	} else {
		logger.WarnContext(ctx, "postgres disabled; the ledger is not persisted")
	}

	// --- Redis, or in-process adapters ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		locks := redis.NewLockManager(redisClient, cfg.Redis.ClaimTTL.Duration)
		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Price.CacheTTL.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = locks
		deps.Claimer = locks
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.PriceCache = memory.NewPriceCache()
		deps.SignalBus = memory.NewBus(10000)
		deps.RateLimiter = memory.NewRateLimiter()
		deps.Claimer = executor.NewDedup(cfg.Redis.ClaimTTL.Duration)
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.AuditStore, s3blob.ArchiverConfig{
			Interval:  cfg.Archive.Interval.Duration,
			BatchSize: cfg.Archive.BatchSize,
		}, logger)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Price feed ---
	switch strings.ToLower(cfg.Price.Provider) {
	case "static":
		prices, err := cfg.Price.StaticPrices()
		if err != nil {
			return fail("static prices", err)
		}
		deps.PriceFeed = service.StaticFeed(prices)
	default:
		deps.PriceFeed = jupiter.NewClient(jupiter.Config{
			BaseURL:    cfg.Price.BaseURL,
			APIKey:     cfg.Price.APIKey,
			Timeout:    cfg.Price.Timeout.Duration,
			RetryCount: cfg.Price.RetryCount,
			Mints:      cfg.Price.Mints,
		})
	}

	// --- Congestion ---
	switch strings.ToLower(cfg.Network.Provider) {
	case "fixed":
		deps.Congestion = solana.Fixed(domain.CongestionLevel(strings.ToUpper(cfg.Network.FixedLevel)))
	default:
		deps.Congestion = solana.NewClient(solana.Config{
			RPCURL:    cfg.Network.RPCURL,
			Timeout:   cfg.Network.Timeout.Duration,
			Samples:   cfg.Network.Samples,
			MediumTPS: cfg.Network.MediumTPS,
			HighTPS:   cfg.Network.HighTPS,
		})
	}

	// --- Wallet ---
	deps.Wallet = wallet.NewProvider(wallet.Config{
		Key: crypto.KeyConfig{
			RawPrivateKey: cfg.Wallet.PrivateKey,
			KeystorePath:  cfg.Wallet.EncryptedKeyPath,
			Password:      cfg.Wallet.KeyPassword,
		},
		RPCURL:   cfg.Wallet.RPCURL,
		Decimals: cfg.Wallet.Decimals,
	}, logger)
	closers = append(closers, func() { _ = deps.Wallet.Disconnect() })

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramBaseURL,
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
