package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/aklo360/cc-sub001/internal/blob/s3"
	"github.com/aklo360/cc-sub001/internal/cache/redis"
	"github.com/aklo360/cc-sub001/internal/config"
	"github.com/aklo360/cc-sub001/internal/crypto"
	"github.com/aklo360/cc-sub001/internal/domain"
	"github.com/aklo360/cc-sub001/internal/notify"
	"github.com/aklo360/cc-sub001/internal/platform/evm"
	"github.com/aklo360/cc-sub001/internal/server/handler"
)

// Dependencies bundles every infrastructure dependency the modes build
// services from. Optional collaborators are nil when not configured.
type Dependencies struct {
	Stores domain.Stores

	// Chain
	Verifier domain.DepositVerifier
	Ledger   domain.Ledger

	// Redis; nil when disabled.
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// S3; nil when disabled.
	Archiver *s3blob.Archiver

	// Notifications; nil without any channel.
	Notifier *notify.Notifier

	// Health probes for GET /api/health.
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
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Storage ---
	stores, check, closeStores, err := OpenStores(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeStores)
	deps.Stores = stores
	if check != nil {
		deps.Checks[cfg.Storage.Driver] = check
	}

	// --- Chain ---
	chain, ec, err := evm.Dial(ctx, cfg.Chain.RPCURL, evm.Config{
		ChainID:       cfg.Chain.ChainID,
		TokenAddress:  cfg.Chain.TokenAddress,
		Confirmations: cfg.Chain.Confirmations,
		PollInterval:  cfg.Chain.PollInterval.Duration,
		TxTimeout:     cfg.Chain.TxTimeout.Duration,
	}, crypto.NewKeyring(cfg.Chain.KeyPassword), logger)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	closers = append(closers, ec.Close)
	deps.Verifier = chain
	deps.Ledger = chain
	deps.Checks["chain"] = func(ctx context.Context) error {
		_, err := ec.BlockNumber(ctx)
		return err
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
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
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Stores.Commitments, deps.Stores.Audit)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	deps.Notifier = notify.New(notify.Config{
		TelegramToken:     cfg.Notify.TelegramToken,
		TelegramChatID:    cfg.Notify.TelegramChatID,
		DiscordWebhookURL: cfg.Notify.DiscordWebhookURL,
		Events:            cfg.Notify.Events,
	}, logger)

	return deps, cleanup, nil
}
