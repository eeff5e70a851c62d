// Package ledger owns every balance and position. State only changes through
// Apply and Deposit, which are serialized and atomic; everything else reads a
// copy.
package ledger

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
)

// Ledger is the single source of truth for balances, positions and trade
// history.
type Ledger struct {
	// applyMu serializes writers; mu guards the fields below and is only
	// write-locked for the final swap.
	applyMu sync.Mutex
	mu      sync.RWMutex

	balances   map[domain.BalanceKey]decimal.Decimal
	positions  map[string]domain.Position
	entries    []domain.LedgerEntry
	trades     []domain.Trade
	applied    map[string]struct{}
	tokens     map[string]string
	executions []time.Time
	seq        uint64

	journal domain.LedgerJournal
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithJournal persists every batch before it is committed in memory.
func WithJournal(j domain.LedgerJournal) Option {
	return func(l *Ledger) { l.journal = j }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates an empty Ledger.
func New(logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		balances:  make(map[domain.BalanceKey]decimal.Decimal),
		positions: make(map[string]domain.Position),
		applied:   make(map[string]struct{}),
		tokens:    make(map[string]string),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "ledger")),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Apply records the fills of a terminal outcome and returns the resulting
// balances. Either every entry is recorded or none is. An outcome that was
// already applied is left alone and reported with domain.ErrAlreadyApplied;
// any inconsistency is a *domain.LedgerIntegrityError.
func (l *Ledger) Apply(ctx context.Context, out domain.TradeOutcome) (map[domain.BalanceKey]decimal.Decimal, error) {
	l.applyMu.Lock()
	defer l.applyMu.Unlock()

	if out.ID == "" {
		return nil, &domain.LedgerIntegrityError{Reason: "outcome has no id"}
	}
	if _, ok := l.applied[out.ID]; ok {
		return l.CurrentBalances(), fmt.Errorf("ledger: apply %s: %w", out.ID, domain.ErrAlreadyApplied)
	}

	now := l.now()
	fills := out.Fills()
	st := l.stage()

	var trade *domain.Trade
	if len(fills) > 0 {
		t := buildTrade(uuid.NewString(), out, fills, now)
		trade = &t
	}

	seen := make(map[string]bool, len(fills))
	for _, f := range fills {
		if err := validateFill(f); err != nil {
			return nil, &domain.LedgerIntegrityError{OutcomeID: out.ID, Reason: err.Error()}
		}
		if prev, used := l.tokens[f.OrderToken]; used || seen[f.OrderToken] {
			return nil, &domain.LedgerIntegrityError{
				OutcomeID: out.ID,
				Reason:    fmt.Sprintf("order token %s already recorded (outcome %s)", f.OrderToken, prev),
				Err:       domain.ErrTokenReused,
			}
		}
		seen[f.OrderToken] = true
		st.fill(trade.ID, f, now)
	}
	if k, bal, neg := st.negative(); neg {
		return nil, &domain.LedgerIntegrityError{
			OutcomeID: out.ID,
			Reason:    fmt.Sprintf("balance %s would be %s", k, bal),
			Err:       domain.ErrInsufficientBalance,
		}
	}

	batch := st.batch(out.ID, trade)
	if err := l.persist(ctx, batch); err != nil {
		return nil, err
	}
	l.commit(batch)

	l.logger.InfoContext(ctx, "outcome applied",
		slog.String("outcome_id", out.ID),
		slog.String("kind", string(out.Kind)),
		slog.Int("entries", len(batch.Entries)),
	)
	return l.CurrentBalances(), nil
}

// Deposit credits amount of asset on venue. It is how balances are seeded.
func (l *Ledger) Deposit(ctx context.Context, venue, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("ledger: deposit %s %s: amount must be positive", venue, asset)
	}
	if venue == "" || asset == "" {
		return errors.New("ledger: deposit: venue and asset are required")
	}

	l.applyMu.Lock()
	defer l.applyMu.Unlock()

	st := l.stage()
	st.move("", "", domain.BalanceKey{Venue: venue, Asset: asset}, amount, domain.EntryDeposit, l.now())
	batch := st.batch("deposit:"+uuid.NewString(), nil)
	if err := l.persist(ctx, batch); err != nil {
		return err
	}
	l.commit(batch)
	return nil
}

// Restore rebuilds state from the journal. It must run before any other
// mutation.
func (l *Ledger) Restore(ctx context.Context) (int, error) {
	if l.journal == nil {
		return 0, nil
	}

	l.applyMu.Lock()
	defer l.applyMu.Unlock()

	if l.seq != 0 || len(l.applied) != 0 {
		return 0, errors.New("ledger: restore: ledger is not empty")
	}
	batches, err := l.journal.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: restore: %w", err)
	}
	for _, b := range batches {
		l.commit(b)
	}
	if err := l.Verify(); err != nil {
		return len(batches), fmt.Errorf("ledger: restore: %w", err)
	}
	l.logger.InfoContext(ctx, "ledger restored",
		slog.Int("batches", len(batches)),
		slog.Int("trades", len(l.trades)),
	)
	return len(batches), nil
}

func (l *Ledger) persist(ctx context.Context, batch domain.LedgerBatch) error {
	if l.journal == nil {
		return nil
	}
	if err := l.journal.Append(ctx, batch); err != nil {
		return &domain.LedgerIntegrityError{OutcomeID: batch.OutcomeID, Reason: "journal append failed", Err: err}
	}
	return nil
}

// commit swaps a validated batch into memory. Callers hold applyMu.
func (l *Ledger) commit(b domain.LedgerBatch) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range b.Entries {
		l.balances[e.Key()] = e.BalanceAfter
		if e.Seq > l.seq {
			l.seq = e.Seq
		}
	}
	l.entries = append(l.entries, b.Entries...)
	for _, p := range b.Positions {
		l.positions[p.Asset] = p
	}
	if b.Trade != nil {
		t := b.Trade.Clone()
		l.trades = append(l.trades, t)
		l.executions = append(l.executions, t.RecordedAt)
		for _, f := range t.Fills {
			l.tokens[f.OrderToken] = b.OutcomeID
		}
	}
	l.applied[b.OutcomeID] = struct{}{}
}

func validateFill(f domain.Fill) error {
	switch {
	case f.OrderToken == "":
		return fmt.Errorf("fill on %s has no order token", f.Venue)
	case f.Size.IsNegative() || f.Price.IsNegative() || f.Fee.IsNegative():
		return fmt.Errorf("fill %s has a negative amount", f.OrderToken)
	case f.Size.IsPositive() && !f.Price.IsPositive():
		return fmt.Errorf("fill %s has no price", f.OrderToken)
	case f.Side != domain.SideBuy && f.Side != domain.SideSell:
		return fmt.Errorf("fill %s has unknown side %q", f.OrderToken, f.Side)
	}
	return nil
}
