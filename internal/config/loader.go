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
// built-in defaults, applies CCFLIP_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CCFLIP_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "CCFLIP_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "CCFLIP_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.TokenAddress, "CCFLIP_CHAIN_TOKEN_ADDRESS")
	setUint64(&cfg.Chain.Confirmations, "CCFLIP_CHAIN_CONFIRMATIONS")
	setDuration(&cfg.Chain.PollInterval, "CCFLIP_CHAIN_POLL_INTERVAL")
	setDuration(&cfg.Chain.TxTimeout, "CCFLIP_CHAIN_TX_TIMEOUT")
	setStr(&cfg.Chain.KeyPassword, "CCFLIP_CHAIN_KEY_PASSWORD")

	// ── Wager ──
	setInt64(&cfg.Wager.MinStake, "CCFLIP_WAGER_MIN_STAKE")
	setInt64(&cfg.Wager.MaxStake, "CCFLIP_WAGER_MAX_STAKE")
	setInt64(&cfg.Wager.HouseEdgeBps, "CCFLIP_WAGER_HOUSE_EDGE_BPS")
	setInt64(&cfg.Wager.FeeAmount, "CCFLIP_WAGER_FEE_AMOUNT")
	setStr(&cfg.Wager.FeeAddress, "CCFLIP_WAGER_FEE_ADDRESS")
	setDuration(&cfg.Wager.CommitmentTTL, "CCFLIP_WAGER_COMMITMENT_TTL")
	setDuration(&cfg.Wager.Cooldown, "CCFLIP_WAGER_COOLDOWN")
	setDuration(&cfg.Wager.VerifyTimeout, "CCFLIP_WAGER_VERIFY_TIMEOUT")

	// ── Risk ──
	setInt64(&cfg.Risk.DailyLossLimit, "CCFLIP_RISK_DAILY_LOSS_LIMIT")
	setInt64(&cfg.Risk.PerPayoutCeiling, "CCFLIP_RISK_PER_PAYOUT_CEILING")
	setInt64(&cfg.Risk.DailyPayoutCeiling, "CCFLIP_RISK_DAILY_PAYOUT_CEILING")

	// ── Treasury ──
	setInt64(&cfg.Treasury.HotLowThreshold, "CCFLIP_TREASURY_HOT_LOW_THRESHOLD")
	setInt64(&cfg.Treasury.HotTarget, "CCFLIP_TREASURY_HOT_TARGET")
	setInt64(&cfg.Treasury.MaxSingleTransfer, "CCFLIP_TREASURY_MAX_SINGLE_TRANSFER")
	setInt64(&cfg.Treasury.MinSweepAmount, "CCFLIP_TREASURY_MIN_SWEEP_AMOUNT")

	// ── Maintenance ──
	setBool(&cfg.Maintenance.Enabled, "CCFLIP_MAINTENANCE_ENABLED")
	setDuration(&cfg.Maintenance.ExpireInterval, "CCFLIP_MAINTENANCE_EXPIRE_INTERVAL")
	setDuration(&cfg.Maintenance.TopUpInterval, "CCFLIP_MAINTENANCE_TOPUP_INTERVAL")
	setDuration(&cfg.Maintenance.FeeSweepInterval, "CCFLIP_MAINTENANCE_FEE_SWEEP_INTERVAL")
	setDuration(&cfg.Maintenance.SettleInterval, "CCFLIP_MAINTENANCE_SETTLE_INTERVAL")
	setDuration(&cfg.Maintenance.ArchiveInterval, "CCFLIP_MAINTENANCE_ARCHIVE_INTERVAL")
	setInt(&cfg.Maintenance.ArchiveRetentionDays, "CCFLIP_MAINTENANCE_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Maintenance.LockTTL, "CCFLIP_MAINTENANCE_LOCK_TTL")

	// ── Storage ──
	setStr(&cfg.Storage.Driver, "CCFLIP_STORAGE_DRIVER")
	setStr(&cfg.Storage.BoltPath, "CCFLIP_STORAGE_BOLT_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CCFLIP_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "CCFLIP_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CCFLIP_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CCFLIP_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CCFLIP_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CCFLIP_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CCFLIP_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CCFLIP_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CCFLIP_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CCFLIP_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CCFLIP_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CCFLIP_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CCFLIP_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CCFLIP_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CCFLIP_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CCFLIP_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CCFLIP_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CCFLIP_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CCFLIP_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CCFLIP_S3_REGION")
	setStr(&cfg.S3.Bucket, "CCFLIP_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CCFLIP_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CCFLIP_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CCFLIP_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CCFLIP_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CCFLIP_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CCFLIP_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CCFLIP_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CCFLIP_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "CCFLIP_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "CCFLIP_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CCFLIP_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CCFLIP_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CCFLIP_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CCFLIP_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CCFLIP_MODE")
	setStr(&cfg.LogLevel, "CCFLIP_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
