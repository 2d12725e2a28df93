// Package config defines the configuration of the sale indexer and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by NFTSALES_* environment variables.
type Config struct {
	Chain      ChainConfig      `toml:"chain"`
	Store      StoreConfig      `toml:"store"`
	Postgres   PostgresConfig   `toml:"postgres"`
	SQLite     SQLiteConfig     `toml:"sqlite"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	ClickHouse ClickHouseConfig `toml:"clickhouse"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ChainConfig holds the RPC endpoint and the contracts the indexer watches.
type ChainConfig struct {
	RPCURL        string   `toml:"rpc_url"`
	ChainID       int64    `toml:"chain_id"`
	Exchange      string   `toml:"exchange"`
	WETH          string   `toml:"weth"`
	USDC          string   `toml:"usdc"`
	Router        string   `toml:"router"`
	StartBlock    uint64   `toml:"start_block"`
	Confirmations uint64   `toml:"confirmations"`
	BatchSize     uint64   `toml:"batch_size"`
	PollInterval  duration `toml:"poll_interval"`
	// Settlement is "event" (OrdersMatched settles) or "call" (atomicMatch_
	// input settles).
	Settlement string `toml:"settlement"`
	// PinReads evaluates contract reads at the block of the event.
	PinReads    bool   `toml:"pin_reads"`
	IndexerName string `toml:"indexer_name"`
	// RPCRateLimit caps contract calls per second; zero disables it.
	RPCRateLimit float64 `toml:"rpc_rate_limit"`
	RPCBurst     int     `toml:"rpc_burst"`
}

// StoreConfig selects the entity store backend.
type StoreConfig struct {
	Backend string `toml:"backend"` // memory, postgres, sqlite or redis
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// SQLiteConfig holds the path of the single-node database file.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters. Redis also carries the
// indexer lock and the sale bus when enabled.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	LockTTL    duration `toml:"lock_ttl"`
}

// S3Config holds the raw log batch archive settings.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ClickHouseConfig holds the analytics sink settings.
type ClickHouseConfig struct {
	Enabled  bool   `toml:"enabled"`
	DSN      string `toml:"dsn"`
	Table    string `toml:"table"`
	MaxBatch int    `toml:"max_batch"`
}

// duration wraps time.Duration so TOML strings like "12s" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per second per client IP; zero disables it.
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`
}

// NotifyConfig holds notification channel credentials. Sales at or above
// MinUSD are announced.
type NotifyConfig struct {
	TelegramToken     string  `toml:"telegram_token"`
	TelegramChatID    string  `toml:"telegram_chat_id"`
	DiscordWebhookURL string  `toml:"discord_webhook_url"`
	MinUSD            float64 `toml:"min_usd"`
}

// Enabled reports whether any notification channel is configured.
func (n NotifyConfig) Enabled() bool {
	return n.DiscordWebhookURL != "" || (n.TelegramToken != "" && n.TelegramChatID != "")
}

// Defaults returns a Config for Ethereum mainnet and the Wyvern v2 exchange.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:       1,
			Exchange:      "0x7Be8076f4EA4A4AD08075C2508e481d6C946D12b",
			WETH:          "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
			USDC:          "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			Router:        "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
			StartBlock:    5774644,
			Confirmations: 12,
			BatchSize:     100,
			PollInterval:  duration{12 * time.Second},
			Settlement:    "event",
			IndexerName:   "wyvern",
			RPCRateLimit:  25,
			RPCBurst:      50,
		},
		Store: StoreConfig{Backend: "postgres"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "nftsales",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{Path: "nftsales.db"},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			LockTTL:    duration{time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "nftsales",
			Prefix:         "batches",
			ForcePathStyle: true,
		},
		ClickHouse: ClickHouseConfig{
			DSN:      "clickhouse://localhost:9000/default",
			Table:    "sales",
			MaxBatch: 500,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   20,
			RateBurst:   40,
		},
		Notify: NotifyConfig{
			MinUSD: 100_000,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"index":  true,
	"replay": true,
	"server": true,
	"full":   true,
}

var validBackends = map[string]bool{
	"memory":   true,
	"postgres": true,
	"sqlite":   true,
	"redis":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Indexes reports whether the mode runs the indexer.
func (c *Config) Indexes() bool {
	return c.Mode == "index" || c.Mode == "full"
}

// Serves reports whether the mode runs the HTTP server.
func (c *Config) Serves() bool {
	return c.Mode == "server" || c.Mode == "full"
}

// Validate checks Config for invalid or missing values and returns a combined
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[c.Mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: index, replay, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Mode != "server" {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
		for _, a := range []struct{ name, addr string }{
			{"exchange", c.Chain.Exchange},
			{"weth", c.Chain.WETH},
			{"usdc", c.Chain.USDC},
			{"router", c.Chain.Router},
		} {
			if !common.IsHexAddress(a.addr) {
				errs = append(errs, fmt.Sprintf("chain: %s %q is not a hex address", a.name, a.addr))
			}
		}
		if c.Chain.Settlement != "event" && c.Chain.Settlement != "call" {
			errs = append(errs, fmt.Sprintf("chain: settlement must be event or call, got %q", c.Chain.Settlement))
		}
		if c.Chain.BatchSize == 0 {
			errs = append(errs, "chain: batch_size must be > 0")
		}
		if c.Chain.PollInterval.Duration <= 0 {
			errs = append(errs, "chain: poll_interval must be > 0")
		}
		if c.Chain.RPCRateLimit < 0 {
			errs = append(errs, "chain: rpc_rate_limit must be >= 0")
		}
	}

	// Store
	if !validBackends[c.Store.Backend] {
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: memory, postgres, sqlite, redis)", c.Store.Backend))
	}
	if c.Store.Backend == "memory" && c.Mode == "server" {
		errs = append(errs, "store: memory backend cannot serve data indexed by another process")
	}
	if c.Store.Backend == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if c.Store.Backend == "sqlite" && c.SQLite.Path == "" {
		errs = append(errs, "sqlite: path must not be empty")
	}

	// Redis
	if c.Store.Backend == "redis" && !c.Redis.Enabled {
		errs = append(errs, "redis: must be enabled for the redis store backend")
	}
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Indexes() && c.Redis.LockTTL.Duration <= c.Chain.PollInterval.Duration {
			errs = append(errs, "redis: lock_ttl must exceed chain.poll_interval")
		}
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}
	if c.Mode == "replay" && !c.S3.Enabled {
		errs = append(errs, "s3: must be enabled for replay mode")
	}

	// ClickHouse
	if c.ClickHouse.Enabled {
		if c.ClickHouse.DSN == "" {
			errs = append(errs, "clickhouse: dsn must not be empty")
		}
		if c.ClickHouse.Table == "" {
			errs = append(errs, "clickhouse: table must not be empty")
		}
		if c.ClickHouse.MaxBatch < 1 {
			errs = append(errs, "clickhouse: max_batch must be >= 1")
		}
	}

	// Server
	if c.Serves() && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	if c.Notify.MinUSD < 0 {
		errs = append(errs, "notify: min_usd must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
