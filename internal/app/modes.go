package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aklo360/cc-sub001/internal/maintenance"
	"github.com/aklo360/cc-sub001/internal/risk"
	"github.com/aklo360/cc-sub001/internal/server"
	"github.com/aklo360/cc-sub001/internal/server/handler"
	"github.com/aklo360/cc-sub001/internal/server/ws"
	"github.com/aklo360/cc-sub001/internal/service"
)

const shutdownTimeout = 15 * time.Second

// services are the domain services every mode shares.
type services struct {
	events   *service.Events
	treasury *service.TreasuryService
	wagers   *service.WagerService
}

func (a *App) buildServices(deps *Dependencies) services {
	var alerter service.Alerter
	if deps.Notifier != nil {
		alerter = deps.Notifier
	}
	events := service.NewEvents(deps.Stores.Audit, deps.SignalBus, alerter, a.logger)

	treasury := service.NewTreasuryService(
		deps.Stores.Wallets, deps.Stores.Commitments, deps.Stores.Sweeps,
		deps.Ledger, events,
		service.TreasuryConfig{
			HotLowThreshold:   a.cfg.Treasury.HotLowThreshold,
			HotTarget:         a.cfg.Treasury.HotTarget,
			MaxSingleTransfer: a.cfg.Treasury.MaxSingleTransfer,
			MinSweepAmount:    a.cfg.Treasury.MinSweepAmount,
		},
		a.logger,
	)

	engine := risk.NewEngine(risk.Limits{
		HouseEdgeBps:       a.cfg.Wager.HouseEdgeBps,
		DailyLossLimit:     a.cfg.Risk.DailyLossLimit,
		PerPayoutCeiling:   a.cfg.Risk.PerPayoutCeiling,
		DailyPayoutCeiling: a.cfg.Risk.DailyPayoutCeiling,
	})

	wagers := service.NewWagerService(
		deps.Stores.Commitments, deps.Stores.Replay, deps.Verifier,
		treasury, engine, deps.RateLimiter, events,
		service.WagerConfig{
			MinStake:      a.cfg.Wager.MinStake,
			MaxStake:      a.cfg.Wager.MaxStake,
			FeeAmount:     a.cfg.Wager.FeeAmount,
			CommitmentTTL: a.cfg.Wager.CommitmentTTL.Duration,
			Cooldown:      a.cfg.Wager.Cooldown.Duration,
			VerifyTimeout: a.cfg.Wager.VerifyTimeout.Duration,
		},
		a.logger,
	)

	return services{events: events, treasury: treasury, wagers: wagers}
}

// ServerMode serves the HTTP API and the live event feed.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, svc services) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svc)
	return g.Wait()
}

// WorkerMode runs only the maintenance supervisor.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies, svc services) error {
	a.logger.InfoContext(ctx, "starting worker mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startMaintenance(ctx, g, deps, svc)
	return g.Wait()
}

// FullMode runs the API and maintenance in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, svc services) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc)
	}
	if a.cfg.Maintenance.Enabled {
		a.startMaintenance(ctx, g, deps, svc)
	}
	return g.Wait()
}

func (a *App) startMaintenance(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc services) {
	m := a.cfg.Maintenance
	td := maintenance.Deps{
		Wagers:        svc.wagers,
		Treasury:      svc.treasury,
		RetentionDays: m.ArchiveRetentionDays,
	}
	if deps.Archiver != nil {
		td.Archiver = deps.Archiver
	}
	tasks := maintenance.StandardTasks(td, maintenance.Intervals{
		Expire:   m.ExpireInterval.Duration,
		TopUp:    m.TopUpInterval.Duration,
		FeeSweep: m.FeeSweepInterval.Duration,
		Settle:   m.SettleInterval.Duration,
		Archive:  m.ArchiveInterval.Duration,
	})

	sup := maintenance.NewSupervisor(tasks, deps.Stores.TaskRuns, deps.LockManager, m.LockTTL.Duration, svc.events, a.logger)
	g.Go(func() error {
		return sup.Run(ctx)
	})
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc services) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.cfg.Server.CORSOrigins, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	} else {
		a.logger.WarnContext(ctx, "live feed disabled: no signal bus configured")
	}

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(deps.Checks, a.logger),
		Wagers:      handler.NewWagerHandler(svc.wagers, a.logger),
		Treasury:    handler.NewTreasuryHandler(svc.treasury, svc.wagers, a.logger),
		Maintenance: handler.NewMaintenanceHandler(deps.Stores.TaskRuns, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("http shutdown failed", slog.String("error", err.Error()))
			return err
		}
		return nil
	})
}
