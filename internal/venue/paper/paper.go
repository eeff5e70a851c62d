// Package paper is a simulated venue that fills orders against the live
// top of book held in the snapshot store. No funds move; the ledger does the
// accounting exactly as it does for a real venue.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/britej3/Freq-trader/internal/domain"
)

// Book is the quote source orders are matched against.
type Book interface {
	Get(venue string, pair domain.Pair) (domain.MarketSnapshot, bool)
}

// Config tunes the simulation.
type Config struct {
	Name    string
	FeeRate decimal.Decimal
	// FillLatency keeps new orders pending for this long before they are
	// matched.
	FillLatency time.Duration
	// LimitToDepth fills at most the displayed top-of-book size; the rest of
	// the order keeps working until cancelled.
	LimitToDepth bool
}

// quoteSide identifies one side of the book for a pair.
type quoteSide struct {
	pair domain.Pair
	side domain.Side
}

// consumption is how much of the quote at seq has been taken by orders.
type consumption struct {
	seq uint64
	qty decimal.Decimal
}

type order struct {
	req    domain.OrderRequest
	status domain.OrderStatus
	fillAt time.Time
	// lastSeq is the snapshot sequence last matched against; a quote is only
	// consumed once per order.
	lastSeq uint64
	matched bool
}

// Venue implements domain.Venue in memory.
type Venue struct {
	cfg    Config
	book   Book
	now    func() time.Time
	logger *slog.Logger

	mu     sync.Mutex
	orders map[string]*order
	nextID uint64
	// consumed tracks the latest quote per book side. A displayed quote is
	// shared by all orders: once taken it fills nothing more until the
	// sequence moves on.
	consumed map[quoteSide]consumption
}

// New creates a paper venue reading quotes from book.
func New(cfg Config, book Book, logger *slog.Logger) *Venue {
	return &Venue{
		cfg:      cfg,
		book:     book,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "paper"), slog.String("venue", cfg.Name)),
		orders:   make(map[string]*order),
		consumed: make(map[quoteSide]consumption),
	}
}

// Name returns the venue name.
func (v *Venue) Name() string { return v.cfg.Name }

// SubmitOrder places a limit order. Resubmitting a known token returns the
// existing order.
func (v *Venue) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderHandle, error) {
	if err := v.validate(req); err != nil {
		return domain.OrderHandle{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if o, ok := v.orders[req.Token]; ok {
		return v.handle(o), nil
	}
	if _, ok := v.book.Get(v.cfg.Name, req.Pair); !ok {
		return domain.OrderHandle{}, fmt.Errorf("paper: %s %s: no market: %w", v.cfg.Name, req.Pair, domain.ErrOrderRejected)
	}

	v.nextID++
	now := v.now()
	o := &order{
		req: req,
		status: domain.OrderStatus{
			Token:      req.Token,
			ExchangeID: fmt.Sprintf("paper-%s-%d", v.cfg.Name, v.nextID),
			State:      domain.OrderPending,
			FilledSize: decimal.Zero,
			AvgPrice:   decimal.Zero,
			Fee:        decimal.Zero,
			FeeAsset:   req.Pair.Quote,
			UpdatedAt:  now,
		},
		fillAt: now.Add(v.cfg.FillLatency),
	}
	v.orders[req.Token] = o
	v.match(o)

	v.logger.DebugContext(ctx, "order placed",
		slog.String("token", req.Token),
		slog.String("side", string(req.Side)),
		slog.String("size", req.Size.String()),
		slog.String("state", string(o.status.State)),
	)
	return v.handle(o), nil
}

// CancelOrder cancels the working part of an order. Cancelling a finished
// order is a no-op.
func (v *Venue) CancelOrder(_ context.Context, h domain.OrderHandle) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	o, ok := v.orders[h.Token]
	if !ok {
		return fmt.Errorf("paper: cancel %s: %w", h.Token, domain.ErrOrderNotFound)
	}
	v.match(o)
	if !o.status.State.Terminal() {
		o.status.State = domain.OrderCancelled
		o.status.UpdatedAt = v.now()
	}
	return nil
}

// OrderStatus reports an order by token.
func (v *Venue) OrderStatus(_ context.Context, h domain.OrderHandle) (domain.OrderStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	o, ok := v.orders[h.Token]
	if !ok {
		return domain.OrderStatus{}, fmt.Errorf("paper: status %s: %w", h.Token, domain.ErrOrderNotFound)
	}
	v.match(o)
	return o.status, nil
}

func (v *Venue) handle(o *order) domain.OrderHandle {
	return domain.OrderHandle{Venue: v.cfg.Name, Pair: o.req.Pair, Token: o.req.Token, ExchangeID: o.status.ExchangeID}
}

func (v *Venue) validate(req domain.OrderRequest) error {
	switch {
	case req.Venue != v.cfg.Name:
		return fmt.Errorf("paper: order for %q sent to %q: %w", req.Venue, v.cfg.Name, domain.ErrOrderRejected)
	case req.Token == "":
		return fmt.Errorf("paper: missing token: %w", domain.ErrOrderRejected)
	case !req.Size.IsPositive() || !req.Price.IsPositive():
		return fmt.Errorf("paper: non-positive size or price: %w", domain.ErrOrderRejected)
	case req.Side != domain.SideBuy && req.Side != domain.SideSell:
		return fmt.Errorf("paper: unknown side %q: %w", req.Side, domain.ErrOrderRejected)
	}
	return nil
}

// match fills whatever the current top of book allows. Callers hold mu.
func (v *Venue) match(o *order) {
	if o.status.State.Terminal() || v.now().Before(o.fillAt) {
		return
	}
	snap, ok := v.book.Get(v.cfg.Name, o.req.Pair)
	if !ok || (o.matched && snap.Sequence == o.lastSeq) {
		return
	}

	var px, depth decimal.Decimal
	switch o.req.Side {
	case domain.SideBuy:
		if snap.AskPrice.GreaterThan(o.req.Price) {
			return
		}
		px, depth = snap.AskPrice, snap.AskSize
	case domain.SideSell:
		if snap.BidPrice.LessThan(o.req.Price) {
			return
		}
		px, depth = snap.BidPrice, snap.BidSize
	}

	key := quoteSide{pair: o.req.Pair, side: o.req.Side}
	used := v.consumed[key]
	if used.seq != snap.Sequence {
		used = consumption{seq: snap.Sequence}
	}
	available := depth.Sub(used.qty)
	if !available.IsPositive() {
		return
	}

	qty := o.req.Size.Sub(o.status.FilledSize)
	if v.cfg.LimitToDepth && available.LessThan(qty) {
		qty = available
	}
	if !qty.IsPositive() {
		return
	}

	used.qty = used.qty.Add(qty)
	v.consumed[key] = used
	o.matched, o.lastSeq = true, snap.Sequence
	st := &o.status
	filled := st.FilledSize.Add(qty)
	st.AvgPrice = st.FilledSize.Mul(st.AvgPrice).Add(qty.Mul(px)).DivRound(filled, 16)
	st.FilledSize = filled
	st.Fee = st.Fee.Add(qty.Mul(px).Mul(v.cfg.FeeRate))
	st.UpdatedAt = v.now()
	if filled.GreaterThanOrEqual(o.req.Size) {
		st.State = domain.OrderFilled
	} else {
		st.State = domain.OrderPartiallyFilled
	}
}

var _ domain.Venue = (*Venue)(nil)
