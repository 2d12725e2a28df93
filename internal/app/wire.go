package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/KowsarAtz/nfts-price/internal/analytics/clickhouse"
	s3blob "github.com/KowsarAtz/nfts-price/internal/blob/s3"
	"github.com/KowsarAtz/nfts-price/internal/cache/redis"
	"github.com/KowsarAtz/nfts-price/internal/chain/ethereum"
	"github.com/KowsarAtz/nfts-price/internal/config"
	"github.com/KowsarAtz/nfts-price/internal/domain"
	"github.com/KowsarAtz/nfts-price/internal/notify"
	"github.com/KowsarAtz/nfts-price/internal/store"
	"github.com/KowsarAtz/nfts-price/internal/store/memory"
	"github.com/KowsarAtz/nfts-price/internal/store/postgres"
	"github.com/KowsarAtz/nfts-price/internal/store/sqlite"
)

// Dependencies bundles the concrete adapters the modes run on. Optional
// adapters are nil when not configured.
type Dependencies struct {
	KV       domain.KV
	Entities *store.Entities

	// Chain is nil in server mode.
	Chain *ethereum.Source

	LockManager domain.LockManager
	SaleBus     *redis.SaleBus

	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	Analytics *clickhouse.Sink
	Notifier  *notify.Notifier
}

// Wire constructs every configured adapter and returns them with a cleanup
// function that releases them in reverse order.
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

	deps := &Dependencies{}

	// --- Redis (lock, sale bus, optional entity store) ---
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		c, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = c.Close() })
		redisClient = c
		deps.LockManager = redis.NewLockManager(c)
		deps.SaleBus = redis.NewSaleBus(c)
	}

	// --- Entity store ---
	switch cfg.Store.Backend {
	case "memory":
		deps.KV = memory.NewKV()
	case "postgres":
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.KV = pg.KV()
	case "sqlite":
		kv, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return fail("sqlite", err)
		}
		closers = append(closers, func() { _ = kv.Close() })
		deps.KV = kv
	case "redis":
		if redisClient == nil {
			return fail("store", fmt.Errorf("redis backend requires redis.enabled"))
		}
		deps.KV = redis.NewKV(redisClient)
	default:
		return fail("store", fmt.Errorf("unknown backend %q", cfg.Store.Backend))
	}
	deps.Entities = store.NewEntities(deps.KV)

	// --- Chain ---
	if cfg.Mode != "server" {
		src, err := ethereum.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.ChainID)
		if err != nil {
			return fail("ethereum", err)
		}
		closers = append(closers, src.Close)
		deps.Chain = src
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		if err := c.Health(ctx); err != nil {
			return fail("s3", err)
		}
		deps.BlobWriter = s3blob.NewWriter(c)
		deps.BlobReader = s3blob.NewReader(c)
	}

	// --- ClickHouse ---
	if cfg.ClickHouse.Enabled && cfg.Mode != "server" {
		sink, err := clickhouse.Open(ctx, cfg.ClickHouse.DSN, cfg.ClickHouse.Table, cfg.ClickHouse.MaxBatch, logger)
		if err != nil {
			return fail("clickhouse", err)
		}
		closers = append(closers, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := sink.Close(closeCtx); err != nil {
				logger.Error("clickhouse close failed", slog.String("error", err.Error()))
			}
		})
		deps.Analytics = sink
	}

	// --- Notifications ---
	if cfg.Notify.Enabled() {
		var senders []notify.Sender
		if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
			senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
		}
		if cfg.Notify.DiscordWebhookURL != "" {
			senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
		}
		deps.Notifier = notify.NewNotifier(senders, decimal.NewFromFloat(cfg.Notify.MinUSD), logger)
	}

	return deps, cleanup, nil
}
