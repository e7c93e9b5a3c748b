package app

import (
	"context"
	"fmt"

	"github.com/aklo360/cc-sub001/internal/config"
	"github.com/aklo360/cc-sub001/internal/domain"
	"github.com/aklo360/cc-sub001/internal/server/handler"
	"github.com/aklo360/cc-sub001/internal/store/bolt"
	"github.com/aklo360/cc-sub001/internal/store/postgres"
)

// OpenStores opens the configured storage backend. The returned check is nil
// for the embedded store, which has nothing remote to probe.
func OpenStores(ctx context.Context, cfg *config.Config) (domain.Stores, handler.Check, func(), error) {
	if cfg.Storage.Driver == "bolt" {
		db, err := bolt.Open(cfg.Storage.BoltPath)
		if err != nil {
			return domain.Stores{}, nil, nil, fmt.Errorf("wire: bolt: %w", err)
		}
		return db.Stores(), nil, func() { _ = db.Close() }, nil
	}

	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
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
		return domain.Stores{}, nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			pgClient.Close()
			return domain.Stores{}, nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	return pgClient.Stores(), pgClient.Pool().Ping, pgClient.Close, nil
}
