// Package config defines the top-level configuration for the moonbot trading
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MOONBOT_* environment variables.
type Config struct {
	Solana   SolanaConfig   `toml:"solana"`
	Jupiter  JupiterConfig  `toml:"jupiter"`
	Jito     JitoConfig     `toml:"jito"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	AutoSell AutoSellConfig `toml:"autosell"`
	Executor ExecutorConfig `toml:"executor"`
	CopyFeed CopyFeedConfig `toml:"copyfeed"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Keys     KeysConfig     `toml:"keys"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// SolanaConfig holds RPC endpoints and chain parameters.
type SolanaConfig struct {
	RPCURL     string `toml:"rpc_url"`
	Commitment string `toml:"commitment"`
	WSOLMint   string `toml:"wsol_mint"`
}

// JupiterConfig holds the aggregator API endpoints.
type JupiterConfig struct {
	SwapHost  string   `toml:"swap_host"`
	PriceHost string   `toml:"price_host"`
	Timeout   duration `toml:"timeout"`
}

// JitoConfig holds block-engine relay parameters.
type JitoConfig struct {
	Endpoints   []string `toml:"endpoints"`
	TipLamports uint64   `toml:"tip_lamports"`
	Timeout     duration `toml:"timeout"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// AutoSellConfig holds the scheduler loop parameters. Backoff grows
// linearly with the consecutive error count and is capped at MaxBackoff;
// after MaxConsecutiveErrors failures the loop pauses for Cooldown.
type AutoSellConfig struct {
	Enabled              bool     `toml:"enabled"`
	Interval             duration `toml:"interval"`
	BaseBackoff          duration `toml:"base_backoff"`
	MaxBackoff           duration `toml:"max_backoff"`
	MaxConsecutiveErrors int      `toml:"max_consecutive_errors"`
	Cooldown             duration `toml:"cooldown"`
	PriceBatchSize       int      `toml:"price_batch_size"`
	PriceCacheTTL        duration `toml:"price_cache_ttl"`
}

// ExecutorConfig holds swap execution parameters.
type ExecutorConfig struct {
	DefaultSlippageBps int      `toml:"default_slippage_bps"`
	ConfirmTimeout     duration `toml:"confirm_timeout"`
	ConfirmPoll        duration `toml:"confirm_poll"`
	Delivery           string   `toml:"delivery"`
}

// CopyFeedConfig holds the tracked-wallet signal feed parameters.
type CopyFeedConfig struct {
	Enabled      bool     `toml:"enabled"`
	URL          string   `toml:"url"`
	DedupeTTL    duration `toml:"dedupe_ttl"`
	ReconnectMin duration `toml:"reconnect_min"`
	ReconnectMax duration `toml:"reconnect_max"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// ServerConfig holds the metrics/health HTTP listener parameters.
type ServerConfig struct {
	Enabled   bool   `toml:"enabled"`
	Port      int    `toml:"port"`
	APIKey    string `toml:"api_key"`
	RateLimit int    `toml:"rate_limit"` // requests per minute per client IP, 0 disables
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken  string   `toml:"telegram_token"`
	OpsChatID      string   `toml:"ops_chat_id"`
	DiscordWebhook string   `toml:"discord_webhook"`
	Events         []string `toml:"events"`
}

// KeysConfig holds wallet key encryption parameters.
type KeysConfig struct {
	Password string `toml:"password"`
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Solana: SolanaConfig{
			RPCURL:     "https://api.mainnet-beta.solana.com",
			Commitment: "confirmed",
			WSOLMint:   "So11111111111111111111111111111111111111112",
		},
		Jupiter: JupiterConfig{
			SwapHost:  "https://api.jup.ag/swap/v1",
			PriceHost: "https://api.jup.ag/price/v2",
			Timeout:   duration{10 * time.Second},
		},
		Jito: JitoConfig{
			Endpoints: []string{
				"https://mainnet.block-engine.jito.wtf/api/v1/bundles",
				"https://amsterdam.mainnet.block-engine.jito.wtf/api/v1/bundles",
				"https://frankfurt.mainnet.block-engine.jito.wtf/api/v1/bundles",
				"https://ny.mainnet.block-engine.jito.wtf/api/v1/bundles",
				"https://tokyo.mainnet.block-engine.jito.wtf/api/v1/bundles",
			},
			TipLamports: 1_000_000,
			Timeout:     duration{15 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "moonbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "moonbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		AutoSell: AutoSellConfig{
			Enabled:              true,
			Interval:             duration{1500 * time.Millisecond},
			BaseBackoff:          duration{5 * time.Second},
			MaxBackoff:           duration{60 * time.Second},
			MaxConsecutiveErrors: 5,
			Cooldown:             duration{5 * time.Minute},
			PriceBatchSize:       100,
			PriceCacheTTL:        duration{2 * time.Second},
		},
		Executor: ExecutorConfig{
			DefaultSlippageBps: 500,
			ConfirmTimeout:     duration{30 * time.Second},
			ConfirmPoll:        duration{1 * time.Second},
			Delivery:           "relay",
		},
		CopyFeed: CopyFeedConfig{
			Enabled:      false,
			DedupeTTL:    duration{10 * time.Minute},
			ReconnectMin: duration{time.Second},
			ReconnectMax: duration{30 * time.Second},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:   true,
			Port:      9090,
			RateLimit: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "step_filled", "position_closed", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validDeliveries enumerates the accepted values for Executor.Delivery.
var validDeliveries = map[string]bool{
	"direct": true,
	"relay":  true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, archive, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Solana
	if c.Solana.RPCURL == "" {
		errs = append(errs, "solana: rpc_url must not be empty")
	}
	if c.Solana.WSOLMint == "" {
		errs = append(errs, "solana: wsol_mint must not be empty")
	}

	// Jupiter
	if c.Jupiter.SwapHost == "" {
		errs = append(errs, "jupiter: swap_host must not be empty")
	}
	if c.Jupiter.PriceHost == "" {
		errs = append(errs, "jupiter: price_host must not be empty")
	}

	// Jito endpoints are required when relay delivery is the default.
	if c.Executor.Delivery == "relay" && len(c.Jito.Endpoints) == 0 {
		errs = append(errs, "jito: at least one endpoint is required for relay delivery")
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 is only needed when archiving.
	if c.Archive.Enabled || c.Mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archiving is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
	}

	// AutoSell
	if c.AutoSell.Interval.Duration <= 0 {
		errs = append(errs, "autosell: interval must be > 0")
	}
	if c.AutoSell.BaseBackoff.Duration <= 0 {
		errs = append(errs, "autosell: base_backoff must be > 0")
	}
	if c.AutoSell.MaxBackoff.Duration < c.AutoSell.BaseBackoff.Duration {
		errs = append(errs, "autosell: max_backoff must be >= base_backoff")
	}
	if c.AutoSell.MaxConsecutiveErrors < 1 {
		errs = append(errs, "autosell: max_consecutive_errors must be >= 1")
	}
	if c.AutoSell.PriceBatchSize < 1 {
		errs = append(errs, "autosell: price_batch_size must be >= 1")
	}

	// Executor
	if c.Executor.DefaultSlippageBps <= 0 || c.Executor.DefaultSlippageBps > 10_000 {
		errs = append(errs, fmt.Sprintf("executor: default_slippage_bps must be 1-10000, got %d", c.Executor.DefaultSlippageBps))
	}
	if !validDeliveries[c.Executor.Delivery] {
		errs = append(errs, fmt.Sprintf("executor: unknown delivery %q (valid: direct, relay)", c.Executor.Delivery))
	}
	if c.Executor.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "executor: confirm_timeout must be > 0")
	}
	if c.Executor.ConfirmPoll.Duration <= 0 {
		errs = append(errs, "executor: confirm_poll must be > 0")
	}

	// CopyFeed
	if c.CopyFeed.Enabled && c.CopyFeed.URL == "" {
		errs = append(errs, "copyfeed: url must not be empty when enabled")
	}

	// Trading modes must be able to decrypt wallet keys.
	needsKeys := c.Mode == "trade" || c.Mode == "full"
	if needsKeys && c.Keys.Password == "" {
		errs = append(errs, "keys: password is required for mode "+c.Mode)
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
