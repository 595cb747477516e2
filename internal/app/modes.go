package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/poolbet/internal/auth"
	"github.com/alanyoungcy/poolbet/internal/pipeline"
	"github.com/alanyoungcy/poolbet/internal/server"
	"github.com/alanyoungcy/poolbet/internal/server/handler"
	"github.com/alanyoungcy/poolbet/internal/server/ws"
	"github.com/alanyoungcy/poolbet/internal/service"
)

const shutdownTimeout = 10 * time.Second

// services holds the engine services shared by the API and the worker.
type services struct {
	events      *service.EventService
	accounts    *service.AccountService
	stakes      *service.StakeService
	settlements *service.SettlementService
}

func (a *App) buildServices(ctx context.Context, deps *Dependencies) (*services, error) {
	accounts := service.NewAccountService(deps.Store, a.logger)
	if err := accounts.EnsureHouseAccount(ctx, a.cfg.Engine.HouseAccountID); err != nil {
		return nil, fmt.Errorf("app: house account: %w", err)
	}

	return &services{
		events:   service.NewEventService(deps.Store, a.logger),
		accounts: accounts,
		stakes: service.NewStakeService(deps.Store, deps.SignalBus, service.StakeConfig{
			MaxCommitRetries: a.cfg.Engine.MaxCommitRetries,
			RetryBaseDelay:   a.cfg.Engine.RetryBaseDelay.Duration,
			RetryMaxDelay:    a.cfg.Engine.RetryMaxDelay.Duration,
		}, a.logger),
		settlements: service.NewSettlementService(
			deps.Store,
			deps.Audit,
			deps.LockManager,
			deps.ReportCache,
			deps.SignalBus,
			deps.Notifier,
			service.SettlementConfig{
				HouseAccountID: a.cfg.Engine.HouseAccountID,
				LockTTL:        a.cfg.Engine.SettleLockTTL.Duration,
			},
			a.logger,
		),
	}, nil
}

// APIMode serves the HTTP API and the websocket pool stream.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")

	svcs, err := a.buildServices(ctx, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svcs)
	return g.Wait()
}

// WorkerMode runs the scheduled background jobs only.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	svcs, err := a.buildServices(ctx, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startScheduler(ctx, g, deps, svcs); err != nil {
		return err
	}
	return g.Wait()
}

// AllMode runs the API and the background jobs in one process.
func (a *App) AllMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting all mode")

	svcs, err := a.buildServices(ctx, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svcs)
	if err := a.startScheduler(ctx, g, deps, svcs); err != nil {
		return err
	}
	return g.Wait()
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{AllowedOrigins: a.cfg.Server.CORSOrigins})
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("app: ws hub: %w", err)
		}
		return nil
	})

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(a.logger, deps.HealthChecks...),
		Events:      handler.NewEventHandler(svcs.events, svcs.stakes, svcs.accounts, a.logger),
		Stakes:      handler.NewStakeHandler(svcs.stakes, a.logger),
		Settlements: handler.NewSettlementHandler(svcs.settlements, a.logger),
		Accounts:    handler.NewAccountHandler(svcs.accounts, a.logger),
	}
	verifier := auth.JWT{
		Secret:   []byte(a.cfg.Auth.JWTSecret),
		TokenTTL: a.cfg.Auth.TokenTTL.Duration,
		Issuer:   a.cfg.Auth.Issuer,
	}
	srv := server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		QuoteRatePerMinute: a.cfg.Server.QuoteRatePerMinute,
		StakeRatePerMinute: a.cfg.Server.StakeRatePerMinute,
	}, handlers, hub, verifier, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) error {
	sched := pipeline.NewScheduler(a.logger)

	if deps.Archiver != nil {
		job := pipeline.NewArchiveJob(
			deps.Archiver,
			deps.Audit,
			deps.Notifier,
			a.cfg.Worker.ArchiveAfter.Duration,
			a.cfg.Worker.ArchiveLookback.Duration,
			a.logger,
		)
		if err := sched.Add(a.cfg.Worker.ArchiveCron, job); err != nil {
			return err
		}
	} else {
		a.logger.InfoContext(ctx, "s3 disabled; settlement archive job not scheduled")
	}

	watcher := pipeline.NewExpiryWatcher(svcs.events, deps.Notifier, a.cfg.Worker.ExpiryDedupTTL.Duration, a.logger)
	if err := sched.Add(a.cfg.Worker.ExpiryWatchCron, watcher); err != nil {
		return err
	}

	g.Go(func() error {
		return sched.Run(ctx)
	})
	a.logger.InfoContext(ctx, "scheduler running", slog.String("archive_cron", a.cfg.Worker.ArchiveCron),
		slog.String("expiry_watch_cron", a.cfg.Worker.ExpiryWatchCron))
	return nil
}
