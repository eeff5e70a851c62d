package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/britej3/Freq-trader/internal/domain"
)

const streamBatch = 100

// lockHolder reports who holds a distributed lock.
type lockHolder interface {
	Holder(ctx context.Context, key string) (string, error)
}

// watcher follows a trading engine through the shared Redis bus and logs what
// it sees, including changes of the engine lock holder.
type watcher struct {
	bus      domain.SignalBus
	lock     lockHolder
	lockKey  string
	interval time.Duration
	logger   *slog.Logger

	lastID string
	holder string
	trades int
}

func newWatcher(bus domain.SignalBus, lock lockHolder, lockKey string, interval time.Duration, logger *slog.Logger) *watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &watcher{
		bus:      bus,
		lock:     lock,
		lockKey:  lockKey,
		interval: interval,
		logger:   logger.With(slog.String("component", "watcher")),
		lastID:   "0",
	}
}

// Run blocks until ctx is done.
func (w *watcher) Run(ctx context.Context) error {
	alerts, err := w.bus.Subscribe(ctx, domain.ChannelAlerts)
	if err != nil {
		return err
	}
	cycles, err := w.bus.Subscribe(ctx, domain.ChannelCycles)
	if err != nil {
		return err
	}

	// Skip trades recorded before we started.
	if n := w.drainTrades(ctx, false); n > 0 {
		w.logger.InfoContext(ctx, "trade stream caught up", slog.Int("existing", n))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for msg := range alerts {
			w.handleAlert(gctx, msg)
		}
		return nil
	})
	g.Go(func() error {
		for msg := range cycles {
			w.handleCycle(gctx, msg)
		}
		return nil
	})
	g.Go(func() error {
		t := time.NewTicker(w.interval)
		defer t.Stop()
		for {
			w.poll(gctx)
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
			}
		}
	})
	return g.Wait()
}

func (w *watcher) poll(ctx context.Context) {
	w.drainTrades(ctx, true)
	w.checkLock(ctx)
}

// drainTrades reads the trade stream up to its end and returns how many
// entries it consumed.
func (w *watcher) drainTrades(ctx context.Context, log bool) int {
	total := 0
	for {
		msgs, err := w.bus.StreamRead(ctx, domain.StreamTrades, w.lastID, streamBatch)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.WarnContext(ctx, "read trade stream failed", slog.String("error", err.Error()))
			}
			return total
		}
		for _, m := range msgs {
			w.lastID = m.ID
			total++
			if log {
				w.handleTrade(ctx, m)
			}
		}
		if len(msgs) < streamBatch {
			return total
		}
	}
}

func (w *watcher) handleTrade(ctx context.Context, m domain.StreamMessage) {
	w.trades++
	var out struct {
		ID       string             `json:"id"`
		Kind     domain.OutcomeKind `json:"kind"`
		Unhedged []json.RawMessage  `json:"unhedged"`
	}
	if err := json.Unmarshal(m.Payload, &out); err != nil {
		w.logger.WarnContext(ctx, "malformed trade entry", slog.String("id", m.ID), slog.String("error", err.Error()))
		return
	}
	w.logger.InfoContext(ctx, "trade",
		slog.String("stream_id", m.ID),
		slog.String("outcome_id", out.ID),
		slog.String("kind", string(out.Kind)),
		slog.Int("unhedged", len(out.Unhedged)),
	)
}

func (w *watcher) handleAlert(ctx context.Context, msg []byte) {
	var a struct {
		Event   string `json:"event"`
		Title   string `json:"title"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(msg, &a); err != nil {
		w.logger.WarnContext(ctx, "malformed alert", slog.String("error", err.Error()))
		return
	}
	w.logger.WarnContext(ctx, "engine alert",
		slog.String("event", a.Event),
		slog.String("title", a.Title),
		slog.String("message", a.Message),
	)
}

func (w *watcher) handleCycle(ctx context.Context, msg []byte) {
	var c struct {
		Cycle         uint64 `json:"cycle"`
		Opportunities int    `json:"opportunities"`
		Executed      int    `json:"executed"`
		Failed        int    `json:"failed"`
		Blocked       string `json:"blocked"`
		Halted        bool   `json:"halted"`
	}
	if err := json.Unmarshal(msg, &c); err != nil {
		w.logger.WarnContext(ctx, "malformed cycle report", slog.String("error", err.Error()))
		return
	}
	level := slog.LevelDebug
	if c.Executed > 0 || c.Failed > 0 || c.Halted {
		level = slog.LevelInfo
	}
	w.logger.Log(ctx, level, "engine cycle",
		slog.Uint64("cycle", c.Cycle),
		slog.Int("opportunities", c.Opportunities),
		slog.Int("executed", c.Executed),
		slog.Int("failed", c.Failed),
		slog.String("blocked", c.Blocked),
		slog.Bool("halted", c.Halted),
	)
}

func (w *watcher) checkLock(ctx context.Context) {
	if w.lock == nil {
		return
	}
	h, err := w.lock.Holder(ctx, w.lockKey)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.WarnContext(ctx, "lock holder lookup failed", slog.String("error", err.Error()))
		}
		return
	}
	if h == w.holder {
		return
	}
	switch {
	case h == "":
		w.logger.InfoContext(ctx, "engine lock released", slog.String("previous", w.holder))
	case w.holder == "":
		w.logger.InfoContext(ctx, "engine lock taken", slog.String("holder", h))
	default:
		w.logger.InfoContext(ctx, "engine lock changed hands", slog.String("previous", w.holder), slog.String("holder", h))
	}
	w.holder = h
}
