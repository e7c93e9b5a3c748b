// Package config defines the top-level configuration for the wager service
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CCFLIP_* environment variables.
type Config struct {
	Chain       ChainConfig       `toml:"chain"`
	Wager       WagerConfig       `toml:"wager"`
	Risk        RiskConfig        `toml:"risk"`
	Treasury    TreasuryConfig    `toml:"treasury"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
	Storage     StorageConfig     `toml:"storage"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// ChainConfig holds the EVM endpoint and the token wagers are settled in.
type ChainConfig struct {
	RPCURL        string   `toml:"rpc_url"`
	ChainID       int64    `toml:"chain_id"`
	TokenAddress  string   `toml:"token_address"`
	Confirmations uint64   `toml:"confirmations"`
	PollInterval  duration `toml:"poll_interval"`
	TxTimeout     duration `toml:"tx_timeout"`
	// KeyPassword decrypts the wallet key files referenced by wallet records.
	KeyPassword string `toml:"key_password"`
}

// WagerConfig holds the parameters of the canonical coin flip.
type WagerConfig struct {
	MinStake     int64 `toml:"min_stake"`
	MaxStake     int64 `toml:"max_stake"`
	HouseEdgeBps int64 `toml:"house_edge_bps"`
	// FeeAmount is paid to the hot wallet in the same transaction as the
	// stake, where the fee sweep collects it.
	FeeAmount int64 `toml:"fee_amount"`
	// FeeAddress is no longer supported. A fee paid anywhere but the hot
	// wallet would leave the sweep burning stakes, so Validate rejects it.
	FeeAddress    string   `toml:"fee_address"`
	CommitmentTTL duration `toml:"commitment_ttl"`
	Cooldown      duration `toml:"cooldown"`
	VerifyTimeout duration `toml:"verify_timeout"`
}

// RiskConfig holds the circuit-breaker limits. Zero disables a ceiling.
type RiskConfig struct {
	DailyLossLimit     int64 `toml:"daily_loss_limit"`
	PerPayoutCeiling   int64 `toml:"per_payout_ceiling"`
	DailyPayoutCeiling int64 `toml:"daily_payout_ceiling"`
}

// TreasuryConfig holds the hot wallet rebalancing policy.
type TreasuryConfig struct {
	HotLowThreshold   int64 `toml:"hot_low_threshold"`
	HotTarget         int64 `toml:"hot_target"`
	MaxSingleTransfer int64 `toml:"max_single_transfer"`
	MinSweepAmount    int64 `toml:"min_sweep_amount"`
}

// MaintenanceConfig holds background task schedules.
type MaintenanceConfig struct {
	Enabled              bool     `toml:"enabled"`
	ExpireInterval       duration `toml:"expire_interval"`
	TopUpInterval        duration `toml:"topup_interval"`
	FeeSweepInterval     duration `toml:"fee_sweep_interval"`
	SettleInterval       duration `toml:"settle_interval"`
	ArchiveInterval      duration `toml:"archive_interval"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	LockTTL              duration `toml:"lock_ttl"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Driver is "postgres" or "bolt".
	Driver   string `toml:"driver"`
	BoltPath string `toml:"bolt_path"`
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
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects the operator routes. Empty disables them.
	APIKey     string   `toml:"api_key"`
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:        "http://localhost:8545",
			ChainID:       8453,
			Confirmations: 1,
			PollInterval:  duration{2 * time.Second},
			TxTimeout:     duration{2 * time.Minute},
		},
		Wager: WagerConfig{
			MinStake:      1_000_000,
			MaxStake:      1_000_000_000,
			HouseEdgeBps:  200,
			CommitmentTTL: duration{10 * time.Minute},
			VerifyTimeout: duration{20 * time.Second},
		},
		Risk: RiskConfig{
			DailyLossLimit:     5_000_000_000,
			PerPayoutCeiling:   1_960_000_000,
			DailyPayoutCeiling: 20_000_000_000,
		},
		Treasury: TreasuryConfig{
			HotLowThreshold:   2_000_000_000,
			HotTarget:         5_000_000_000,
			MaxSingleTransfer: 5_000_000_000,
			MinSweepAmount:    1_000_000,
		},
		Maintenance: MaintenanceConfig{
			Enabled:              true,
			ExpireInterval:       duration{time.Minute},
			TopUpInterval:        duration{5 * time.Minute},
			FeeSweepInterval:     duration{time.Hour},
			SettleInterval:       duration{2 * time.Minute},
			ArchiveInterval:      duration{24 * time.Hour},
			ArchiveRetentionDays: 30,
			LockTTL:              duration{5 * time.Minute},
		},
		Storage: StorageConfig{
			Driver:   "postgres",
			BoltPath: "ccflip.db",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "ccflip",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "ccflip-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"deposit.orphaned", "payout.deferred", "payout.failed", "task.failed", "treasury.topup"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"worker": true,
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
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if !common.IsHexAddress(c.Chain.TokenAddress) {
		errs = append(errs, fmt.Sprintf("chain: token_address %q is not a valid address", c.Chain.TokenAddress))
	}
	if c.Chain.PollInterval.Duration <= 0 {
		errs = append(errs, "chain: poll_interval must be > 0")
	}

	// Wager
	if c.Wager.MinStake <= 0 {
		errs = append(errs, "wager: min_stake must be > 0")
	}
	if c.Wager.MaxStake < c.Wager.MinStake {
		errs = append(errs, "wager: max_stake must be >= min_stake")
	}
	if c.Wager.HouseEdgeBps < 0 || c.Wager.HouseEdgeBps >= 5000 {
		errs = append(errs, fmt.Sprintf("wager: house_edge_bps must be in [0, 5000), got %d", c.Wager.HouseEdgeBps))
	}
	if c.Wager.FeeAmount < 0 {
		errs = append(errs, "wager: fee_amount must be >= 0")
	}
	if c.Wager.FeeAddress != "" {
		errs = append(errs, "wager: fee_address is not supported; fees are paid to the hot wallet with the stake")
	}
	if c.Wager.CommitmentTTL.Duration <= 0 {
		errs = append(errs, "wager: commitment_ttl must be > 0")
	}
	if c.Wager.Cooldown.Duration < 0 {
		errs = append(errs, "wager: cooldown must be >= 0")
	}
	if c.Wager.VerifyTimeout.Duration <= 0 {
		errs = append(errs, "wager: verify_timeout must be > 0")
	}

	// Risk
	if c.Risk.DailyLossLimit < 0 || c.Risk.PerPayoutCeiling < 0 || c.Risk.DailyPayoutCeiling < 0 {
		errs = append(errs, "risk: limits must be >= 0")
	}

	// Treasury
	if c.Treasury.HotTarget < c.Treasury.HotLowThreshold {
		errs = append(errs, "treasury: hot_target must be >= hot_low_threshold")
	}
	if c.Treasury.MaxSingleTransfer <= 0 {
		errs = append(errs, "treasury: max_single_transfer must be > 0")
	}

	// Maintenance
	if c.Maintenance.Enabled {
		for name, d := range map[string]duration{
			"expire_interval":    c.Maintenance.ExpireInterval,
			"topup_interval":     c.Maintenance.TopUpInterval,
			"fee_sweep_interval": c.Maintenance.FeeSweepInterval,
			"settle_interval":    c.Maintenance.SettleInterval,
			"archive_interval":   c.Maintenance.ArchiveInterval,
		} {
			if d.Duration <= 0 {
				errs = append(errs, fmt.Sprintf("maintenance: %s must be > 0", name))
			}
		}
		if c.Maintenance.ArchiveRetentionDays < 1 {
			errs = append(errs, "maintenance: archive_retention_days must be >= 1")
		}
	}

	// Storage
	switch c.Storage.Driver {
	case "postgres":
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
	case "bolt":
		if c.Storage.BoltPath == "" {
			errs = append(errs, "storage: bolt_path must not be empty for driver bolt")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: postgres, bolt)", c.Storage.Driver))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	if c.Wager.Cooldown.Duration > 0 && !c.Redis.Enabled {
		errs = append(errs, "wager: cooldown requires redis.enabled")
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
