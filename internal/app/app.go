// Package app assembles the engine and its backends from configuration and
// runs them in one of three modes: paper, live or monitor.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/britej3/Freq-trader/internal/config"
)

// Operating modes.
const (
	modePaper   = "paper"
	modeLive    = "live"
	modeMonitor = "monitor"
)

// App owns the configuration and the cleanup functions registered while
// wiring. Cleanups run in reverse order on Close.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New returns an App; nothing is connected until Run.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies and blocks in the configured mode until ctx is
// cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	var run func(context.Context, *Dependencies) error
	switch mode {
	case modePaper:
		run = a.PaperMode
	case modeLive:
		run = a.LiveMode
	case modeMonitor:
		run = a.MonitorMode
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", mode),
		slog.Int("venues", len(a.cfg.Venues)),
		slog.Any("pairs", a.cfg.Scanner.Pairs),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return run(ctx, deps)
}

// Close runs the registered cleanups. Calling it again is a no-op.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("releasing resources")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
