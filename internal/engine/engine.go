// Package engine runs the scan, decide, execute and apply cycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/britej3/Freq-trader/internal/domain"
	"github.com/britej3/Freq-trader/internal/ledger"
	"github.com/britej3/Freq-trader/internal/risk"
	"github.com/britej3/Freq-trader/internal/scanner"
)

// SnapshotSource is the read side of the market snapshot store.
type SnapshotSource interface {
	ReadAll() domain.SnapshotSet
}

// Executor executes approved decisions.
type Executor interface {
	Execute(ctx context.Context, dec domain.RiskDecision) (domain.TradeOutcome, error)
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config tunes the loop and its trading guard.
type Config struct {
	ScanInterval time.Duration
	// RateLookback bounds the execution history handed to the risk engine.
	// It must cover the longest rate window.
	RateLookback         time.Duration
	MaxTradesPerCycle    int
	MaxConsecutiveErrors int
	MaxBackoff           time.Duration
	LockKey              string
	LockTTL              time.Duration

	EmergencyStop bool
	// ScanOnly scans and reports every cycle but never executes. Unlike the
	// emergency stop it cannot be lifted at runtime.
	ScanOnly bool

	QuoteAsset      string
	StartingCapital decimal.Decimal
	StopLossPct     decimal.Decimal
	MinQuoteBalance decimal.Decimal
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{
		ScanInterval:         time.Second,
		RateLookback:         24 * time.Hour,
		MaxConsecutiveErrors: 10,
		MaxBackoff:           60 * time.Second,
		LockKey:              "arbbot:engine",
		LockTTL:              30 * time.Second,
		QuoteAsset:           "USDT",
	}
}

const alreadyTraded = "already traded at this snapshot generation"

// Engine orchestrates one cycle at a time. Only the ledger holds state that
// survives a cycle; the engine keeps counters and the last report.
type Engine struct {
	cfg     Config
	snaps   SnapshotSource
	scanner *scanner.Scanner
	risk    *risk.Engine
	exec    Executor
	ledger  *ledger.Ledger

	bus      domain.SignalBus
	audit    domain.AuditStore
	cycles   domain.CycleStore
	notifier Notifier
	lock     domain.LockManager
	now      func() time.Time
	logger   *slog.Logger

	cycleMu sync.Mutex
	// traded holds the opportunities executed at tradedGen. A snapshot
	// generation is traded at most once per opportunity. Guarded by cycleMu.
	tradedGen uint64
	traded    map[string]struct{}

	mu        sync.RWMutex
	emergency bool
	halted    error
	blocked   string
	last      *CycleReport
	stats     Stats
}

// Option configures optional collaborators.
type Option func(*Engine)

// WithBus publishes reports, outcomes and alerts on bus.
func WithBus(bus domain.SignalBus) Option { return func(e *Engine) { e.bus = bus } }

// WithAudit records executions in the audit log.
func WithAudit(a domain.AuditStore) Option { return func(e *Engine) { e.audit = a } }

// WithCycleStore persists every cycle report.
func WithCycleStore(s domain.CycleStore) Option { return func(e *Engine) { e.cycles = s } }

// WithNotifier sends operator alerts.
func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithLock makes Run take a distributed lock around every cycle so only one
// engine trades against the same accounts.
func WithLock(l domain.LockManager) Option { return func(e *Engine) { e.lock = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New creates an Engine.
func New(
	cfg Config,
	snaps SnapshotSource,
	sc *scanner.Scanner,
	re *risk.Engine,
	exec Executor,
	l *ledger.Ledger,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	def := DefaultConfig()
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = def.ScanInterval
	}
	if cfg.RateLookback <= 0 {
		cfg.RateLookback = def.RateLookback
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.LockKey == "" {
		cfg.LockKey = def.LockKey
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = def.QuoteAsset
	}
	e := &Engine{
		cfg:       cfg,
		snaps:     snaps,
		scanner:   sc,
		risk:      re,
		exec:      exec,
		ledger:    l,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "engine")),
		emergency: cfg.EmergencyStop,
	}
	for _, o := range opts {
		o(e)
	}
	e.stats.StartedAt = e.now()
	return e
}

// RunCycle performs one cycle: read snapshots, scan, then evaluate each
// candidate against a fresh ledger view, execute it if approved and apply
// the outcome. A failing candidate does not stop the cycle; a ledger
// integrity error halts trading and is returned.
func (e *Engine) RunCycle(ctx context.Context) (CycleReport, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	if err := e.Halted(); err != nil {
		return CycleReport{}, fmt.Errorf("engine: cycle: %w", domain.ErrTradingHalted)
	}
	if err := ctx.Err(); err != nil {
		return CycleReport{}, err
	}

	set := e.snaps.ReadAll()
	opps := e.scanner.Scan(set)
	if e.traded == nil || set.Generation != e.tradedGen {
		e.tradedGen = set.Generation
		e.traded = make(map[string]struct{})
	}

	e.mu.Lock()
	e.stats.Cycles++
	e.stats.OpportunitiesSeen += len(opps)
	cycle := e.stats.Cycles
	e.mu.Unlock()

	rep := CycleReport{
		ID:            uuid.NewString(),
		Cycle:         cycle,
		Generation:    set.Generation,
		StartedAt:     e.now(),
		Snapshots:     len(set.Snapshots),
		Opportunities: len(opps),
	}
	log := e.logger.With(slog.Uint64("cycle", cycle))

	if reason := e.checkGuard(ctx); reason != "" {
		rep.Blocked = reason
		return e.finish(ctx, rep), nil
	}

	for _, opp := range opps {
		if ctx.Err() != nil {
			break
		}
		if e.cfg.MaxTradesPerCycle > 0 && rep.Executed >= e.cfg.MaxTradesPerCycle {
			break
		}

		cr := CandidateResult{
			OpportunityID: opp.ID,
			Pair:          opp.Pair.String(),
			BuyVenue:      opp.Buy.Venue,
			SellVenue:     opp.Sell.Venue,
			NetProfit:     opp.NetProfit,
		}

		if _, done := e.traded[opp.ID]; done {
			cr.Detail = alreadyTraded
			rep.Candidates = append(rep.Candidates, cr)
			continue
		}

		// Exposure moves with every applied trade, so each candidate sees the
		// ledger as it is now.
		dec := e.risk.Evaluate(opp, e.ledger.View(e.now(), e.cfg.RateLookback))
		cr.Decision = dec.Reason
		cr.Detail = dec.Detail
		cr.ApprovedSize = dec.ApprovedSize
		if !dec.Approved() {
			e.mu.Lock()
			e.stats.Rejected++
			e.mu.Unlock()
			log.DebugContext(ctx, "opportunity rejected",
				slog.String("opportunity_id", opp.ID),
				slog.String("reason", string(dec.Reason)),
				slog.String("detail", dec.Detail),
			)
			rep.Candidates = append(rep.Candidates, cr)
			continue
		}

		out, err := e.exec.Execute(ctx, dec)
		if errors.Is(err, domain.ErrDuplicateDecision) {
			e.traded[opp.ID] = struct{}{}
			cr.Detail = alreadyTraded
			rep.Candidates = append(rep.Candidates, cr)
			continue
		}
		var pe *domain.PartialExecutionError
		if err != nil && !errors.As(err, &pe) {
			rep.Failed++
			cr.Error = err.Error()
			log.WarnContext(ctx, "execution failed",
				slog.String("opportunity_id", opp.ID),
				slog.String("error", err.Error()),
			)
			rep.Candidates = append(rep.Candidates, cr)
			continue
		}
		e.traded[opp.ID] = struct{}{}
		cr.OutcomeID = out.ID
		cr.Outcome = out.Kind

		if _, aerr := e.ledger.Apply(ctx, out); aerr != nil {
			var lie *domain.LedgerIntegrityError
			if !errors.As(aerr, &lie) && errors.Is(aerr, domain.ErrAlreadyApplied) {
				// Recorded by an earlier apply; nothing new to count.
				cr.Detail = "outcome already applied"
				rep.Candidates = append(rep.Candidates, cr)
				continue
			}
			cr.Error = aerr.Error()
			rep.Candidates = append(rep.Candidates, cr)
			rep.Halted = true
			e.halt(ctx, aerr)
			return e.finish(ctx, rep), aerr
		}

		rep.Candidates = append(rep.Candidates, cr)
		if out.Kind != domain.OutcomeAborted {
			rep.Executed++
		}
		e.countOutcome(out)
		e.publishOutcome(ctx, out)
		if pe != nil {
			rep.Unhedged = append(rep.Unhedged, out.Unhedged...)
			e.reportPartial(ctx, out)
		}
	}

	rep = e.finish(ctx, rep)
	if rep.Failed > 0 && rep.Executed == 0 {
		return rep, fmt.Errorf("engine: cycle %d: %d execution(s) failed", cycle, rep.Failed)
	}
	return rep, nil
}

func (e *Engine) finish(ctx context.Context, rep CycleReport) CycleReport {
	rep.CompletedAt = e.now()
	sum := e.ledger.Summary()

	e.mu.Lock()
	e.stats.trackPnL(sum.RealizedPnL, sum.Fees)
	e.stats.WinRate = e.stats.winRate()
	at := rep.CompletedAt
	e.stats.LastCycleAt = &at
	r := rep
	e.last = &r
	e.mu.Unlock()

	e.publishReport(ctx, rep)
	if rep.Executed > 0 || rep.Blocked != "" || rep.Halted {
		e.logger.InfoContext(ctx, "cycle completed",
			slog.Uint64("cycle", rep.Cycle),
			slog.Int("opportunities", rep.Opportunities),
			slog.Int("executed", rep.Executed),
			slog.Int("unhedged", len(rep.Unhedged)),
			slog.String("blocked", rep.Blocked),
		)
	}
	return rep
}

func (e *Engine) countOutcome(out domain.TradeOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch out.Kind {
	case domain.OutcomeSuccess:
		e.stats.TradesExecuted++
		e.stats.SuccessfulTrades++
	case domain.OutcomePartialFailure:
		e.stats.TradesExecuted++
		e.stats.PartialTrades++
	case domain.OutcomeAborted:
		e.stats.AbortedTrades++
	}
}

func (e *Engine) halt(ctx context.Context, err error) {
	e.mu.Lock()
	first := e.halted == nil
	if first {
		e.halted = err
		e.stats.Halted = true
		e.stats.HaltReason = err.Error()
	}
	e.mu.Unlock()
	if !first {
		return
	}

	e.logger.ErrorContext(ctx, "trading halted", slog.String("error", err.Error()))
	e.auditLog(ctx, "trading_halted", map[string]any{"error": err.Error()})
	e.alert(ctx, "trading_halted", "Trading halted", err.Error())
}

// Halted returns the error that halted trading, or nil.
func (e *Engine) Halted() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.halted
}

// SetEmergencyStop blocks or unblocks execution. Scanning continues.
func (e *Engine) SetEmergencyStop(on bool) {
	e.mu.Lock()
	e.emergency = on
	e.mu.Unlock()
}

// LastReport returns the most recent cycle report.
func (e *Engine) LastReport() (CycleReport, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return CycleReport{}, false
	}
	return *e.last, true
}

// Stats returns a copy of the running counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.stats
	s.TradingBlocked = e.blocked
	return s
}

// Run drives cycles every ScanInterval until ctx ends, trading halts, or too
// many consecutive cycles fail. Failed cycles back off exponentially.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "engine starting",
		slog.Duration("scan_interval", e.cfg.ScanInterval),
		slog.Int("max_trades_per_cycle", e.cfg.MaxTradesPerCycle),
	)

	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()

	consecutive := 0
	for {
		err := e.lockedCycle(ctx)

		var lie *domain.LedgerIntegrityError
		switch {
		case err == nil:
			consecutive = 0
		case errors.As(err, &lie):
			return fmt.Errorf("engine: trading halted: %w", err)
		case errors.Is(err, domain.ErrTradingHalted):
			return err
		case ctx.Err() != nil:
			e.logger.InfoContext(ctx, "engine stopped")
			return ctx.Err()
		default:
			consecutive++
			if e.cfg.MaxConsecutiveErrors > 0 && consecutive > e.cfg.MaxConsecutiveErrors {
				return fmt.Errorf("engine: %d consecutive cycle errors: %w", consecutive, err)
			}
			wait := e.backoff(consecutive)
			e.logger.WarnContext(ctx, "cycle failed, backing off",
				slog.Int("consecutive", consecutive),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()),
			)
			e.setConsecutive(consecutive)
			if !sleepCtx(ctx, wait) {
				return ctx.Err()
			}
			continue
		}
		e.setConsecutive(0)

		select {
		case <-ctx.Done():
			e.logger.InfoContext(ctx, "engine stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Engine) lockedCycle(ctx context.Context) error {
	if e.lock != nil {
		unlock, err := e.lock.Acquire(ctx, e.cfg.LockKey, e.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			e.logger.DebugContext(ctx, "another engine holds the cycle lock")
			return nil
		}
		if err != nil {
			return fmt.Errorf("engine: acquire lock: %w", err)
		}
		defer unlock()
	}
	_, err := e.RunCycle(ctx)
	return err
}

func (e *Engine) setConsecutive(n int) {
	e.mu.Lock()
	e.stats.ConsecutiveErrors = n
	e.mu.Unlock()
}

// backoff doubles the scan interval per consecutive failure, capped at
// MaxBackoff.
func (e *Engine) backoff(n int) time.Duration {
	d := e.cfg.ScanInterval
	for i := 1; i < n && d < e.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if d > e.cfg.MaxBackoff {
		d = e.cfg.MaxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
