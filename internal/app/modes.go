package app

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/escrowmarket/internal/pipeline"
	"github.com/alanyoungcy/escrowmarket/internal/server"
	"github.com/alanyoungcy/escrowmarket/internal/server/handler"
	"github.com/alanyoungcy/escrowmarket/internal/server/ws"
	"github.com/alanyoungcy/escrowmarket/internal/service"
)

const shutdownTimeout = 5 * time.Second

// ServeMode runs the HTTP API and the websocket hub.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting serve mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return wait(g)
}

// RelayMode republishes unpublished outbox events until cancelled.
func (a *App) RelayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting relay mode")
	return a.orchestrator(deps, true, false).Run(ctx)
}

// ArchiveMode runs only the scheduled event archiver.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting archive mode")
	if deps.Archiver == nil {
		return errors.New("app: archive mode requires archive.enabled = true")
	}
	return a.orchestrator(deps, false, true).Run(ctx)
}

// FullMode runs the API, the relay and, when configured, the archiver in
// one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting full mode")
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	orch := a.orchestrator(deps, true, deps.Archiver != nil)
	g.Go(func() error {
		return orch.Run(ctx)
	})
	return wait(g)
}

func (a *App) orchestrator(deps *Dependencies, withRelay, withArchive bool) *pipeline.Orchestrator {
	var relay *pipeline.Relay
	if withRelay {
		relay = pipeline.NewRelay(deps.Events, deps.Publisher,
			a.cfg.Relay.Interval.Duration, a.cfg.Relay.BatchSize, a.logger)
	}
	var archiver *pipeline.Archiver
	if withArchive && deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, nil, a.logger)
	}
	return pipeline.NewOrchestrator(relay, archiver, a.cfg.Archive.Cron, a.logger)
}

// startHTTPServer adds the HTTP server and the websocket hub to g. The
// server is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	markets := service.NewMarketService(deps.Engine, deps.Markets, deps.Bets, deps.Events,
		deps.Balances, deps.MarketCache, a.logger)
	if deps.ArchiveReader != nil {
		markets.WithArchive(deps.ArchiveReader)
	}

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(deps.Health, a.logger),
		Markets:    handler.NewMarketHandler(markets, a.logger),
		Operations: handler.NewOperationsHandler(deps.Engine, a.logger),
		Accounts:   handler.NewAccountHandler(markets, deps.Funder, a.logger),
		Metrics:    deps.Metrics.Handler(),
	}

	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, server.Deps{
		Verifier: deps.Verifier,
		Limiter:  deps.Limiter,
		Observer: deps.Metrics,
	}, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// wait treats cancellation as a clean stop.
func wait(g *errgroup.Group) error {
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
