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
// built-in defaults, applies MOONBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known MOONBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Solana ──
	setStr(&cfg.Solana.RPCURL, "MOONBOT_SOLANA_RPC_URL")
	setStr(&cfg.Solana.Commitment, "MOONBOT_SOLANA_COMMITMENT")
	setStr(&cfg.Solana.WSOLMint, "MOONBOT_SOLANA_WSOL_MINT")

	// ── Jupiter ──
	setStr(&cfg.Jupiter.SwapHost, "MOONBOT_JUPITER_SWAP_HOST")
	setStr(&cfg.Jupiter.PriceHost, "MOONBOT_JUPITER_PRICE_HOST")
	setDuration(&cfg.Jupiter.Timeout, "MOONBOT_JUPITER_TIMEOUT")

	// ── Jito ──
	setStringSlice(&cfg.Jito.Endpoints, "MOONBOT_JITO_ENDPOINTS")
	setUint64(&cfg.Jito.TipLamports, "MOONBOT_JITO_TIP_LAMPORTS")
	setDuration(&cfg.Jito.Timeout, "MOONBOT_JITO_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MOONBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "MOONBOT_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "MOONBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MOONBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MOONBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MOONBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MOONBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MOONBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MOONBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MOONBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MOONBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MOONBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MOONBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MOONBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MOONBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MOONBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MOONBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MOONBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MOONBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "MOONBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MOONBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MOONBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MOONBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MOONBOT_S3_FORCE_PATH_STYLE")

	// ── AutoSell ──
	setBool(&cfg.AutoSell.Enabled, "MOONBOT_AUTOSELL_ENABLED")
	setDuration(&cfg.AutoSell.Interval, "MOONBOT_AUTOSELL_INTERVAL")
	setDuration(&cfg.AutoSell.BaseBackoff, "MOONBOT_AUTOSELL_BASE_BACKOFF")
	setDuration(&cfg.AutoSell.MaxBackoff, "MOONBOT_AUTOSELL_MAX_BACKOFF")
	setInt(&cfg.AutoSell.MaxConsecutiveErrors, "MOONBOT_AUTOSELL_MAX_CONSECUTIVE_ERRORS")
	setDuration(&cfg.AutoSell.Cooldown, "MOONBOT_AUTOSELL_COOLDOWN")
	setInt(&cfg.AutoSell.PriceBatchSize, "MOONBOT_AUTOSELL_PRICE_BATCH_SIZE")
	setDuration(&cfg.AutoSell.PriceCacheTTL, "MOONBOT_AUTOSELL_PRICE_CACHE_TTL")

	// ── Executor ──
	setInt(&cfg.Executor.DefaultSlippageBps, "MOONBOT_EXECUTOR_DEFAULT_SLIPPAGE_BPS")
	setDuration(&cfg.Executor.ConfirmTimeout, "MOONBOT_EXECUTOR_CONFIRM_TIMEOUT")
	setDuration(&cfg.Executor.ConfirmPoll, "MOONBOT_EXECUTOR_CONFIRM_POLL")
	setStr(&cfg.Executor.Delivery, "MOONBOT_EXECUTOR_DELIVERY")

	// ── CopyFeed ──
	setBool(&cfg.CopyFeed.Enabled, "MOONBOT_COPYFEED_ENABLED")
	setStr(&cfg.CopyFeed.URL, "MOONBOT_COPYFEED_URL")
	setDuration(&cfg.CopyFeed.DedupeTTL, "MOONBOT_COPYFEED_DEDUPE_TTL")
	setDuration(&cfg.CopyFeed.ReconnectMin, "MOONBOT_COPYFEED_RECONNECT_MIN")
	setDuration(&cfg.CopyFeed.ReconnectMax, "MOONBOT_COPYFEED_RECONNECT_MAX")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "MOONBOT_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "MOONBOT_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "MOONBOT_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MOONBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MOONBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "MOONBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "MOONBOT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MOONBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.OpsChatID, "MOONBOT_NOTIFY_OPS_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhook, "MOONBOT_NOTIFY_DISCORD_WEBHOOK")
	setStringSlice(&cfg.Notify.Events, "MOONBOT_NOTIFY_EVENTS")

	// ── Keys ──
	setStr(&cfg.Keys.Password, "MOONBOT_KEYS_PASSWORD")

	// ── Top-level ──
	setStr(&cfg.Mode, "MOONBOT_MODE")
	setStr(&cfg.LogLevel, "MOONBOT_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
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

func setDuration(dst *duration, key string) {
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
