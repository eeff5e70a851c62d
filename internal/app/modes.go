package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/britej3/Freq-trader/internal/server"
	"github.com/britej3/Freq-trader/internal/server/handler"
)

const statsLogInterval = time.Minute

// PaperMode trades against simulated venues filled from the live feeds.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")
	return a.runEngine(ctx, deps, nil)
}

// LiveMode trades real funds on the configured venues.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.WarnContext(ctx, "starting live mode: orders will be sent to real venues")
	if err := deps.Notifier.NotifyAll(ctx, "Engine started", "Live trading is enabled."); err != nil {
		a.logger.WarnContext(ctx, "startup notification failed", slog.String("error", err.Error()))
	}
	return a.runEngine(ctx, deps, nil)
}

// MonitorMode scans and reports without executing. With Redis enabled it also
// follows a trading engine through the shared bus.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	if deps.Bus == nil {
		a.logger.InfoContext(ctx, "redis disabled, not following a trading engine")
		return a.runEngine(ctx, deps, nil)
	}
	var holder lockHolder
	if deps.Lock != nil {
		holder = deps.Lock
	}
	w := newWatcher(deps.Bus, holder, a.cfg.Engine.LockKey, a.cfg.Engine.ScanInterval.Duration*5, a.logger)
	return a.runEngine(ctx, deps, func(ctx context.Context, g *errgroup.Group) {
		g.Go(func() error { return w.Run(ctx) })
	})
}

// runEngine runs the engine loop and its helpers under one errgroup. The first
// failure stops them all.
func (a *App) runEngine(ctx context.Context, deps *Dependencies, extra func(context.Context, *errgroup.Group)) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, f := range deps.Feeds {
		g.Go(func() error { return f.Run(gctx) })
	}

	g.Go(func() error {
		err := deps.Engine.Run(gctx)
		if err != nil && gctx.Err() == nil {
			a.logger.ErrorContext(gctx, "engine stopped", slog.String("error", err.Error()))
			if nerr := deps.Notifier.Notify(context.WithoutCancel(gctx), "engine_stopped", "Engine stopped", err.Error()); nerr != nil {
				a.logger.WarnContext(gctx, "notify failed", slog.String("error", nerr.Error()))
			}
		}
		return err
	})

	if deps.Tokens != nil {
		g.Go(func() error { return deps.Tokens.Run(gctx, 0) })
	}

	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(gctx, a.cfg.Archive.Interval.Duration) })
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(gctx, g, deps)
	}

	g.Go(func() error { return a.logStats(gctx, deps) })

	if extra != nil {
		extra(gctx, g)
	}

	err := g.Wait()
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startHTTPServer adds the API server to g and shuts it down gracefully when
// ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   120,
		RateWindow:  time.Minute,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, deps.Engine, a.logger),
		Ledger:  handler.NewLedgerHandler(deps.Ledger),
		Markets: handler.NewMarketHandler(deps.Store),
		History: handler.NewHistoryHandler(deps.Cycles, deps.Audit, a.logger),
	}, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// logStats periodically logs engine and feed counters.
func (a *App) logStats(ctx context.Context, deps *Dependencies) error {
	t := time.NewTicker(statsLogInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		st := deps.Engine.Stats()
		a.logger.InfoContext(ctx, "engine stats",
			slog.Uint64("cycles", st.Cycles),
			slog.Int("opportunities", st.OpportunitiesSeen),
			slog.Int("trades", st.TradesExecuted),
			slog.Float64("win_rate", st.WinRate),
			slog.String("realized_pnl", st.RealizedPnL.String()),
			slog.String("max_drawdown", st.MaxDrawdown.String()),
			slog.String("blocked", st.TradingBlocked),
		)
		for _, f := range deps.Feeds {
			fs := f.Stats()
			a.logger.DebugContext(ctx, "feed stats",
				slog.String("venue", f.Venue()),
				slog.Int("connects", fs.Connects),
				slog.Int("updates", fs.Updates),
				slog.Int("stale", fs.Stale),
				slog.Int("malformed", fs.Malformed),
				slog.Time("last_at", fs.LastAt),
			)
		}
	}
}
