// Package executor turns an approved risk decision into a pair of orders,
// drives both legs to a terminal state, and reports what actually filled. It
// never touches the ledger.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/britej3/Freq-trader/internal/domain"
)

// Config tunes order submission and tracking.
type Config struct {
	Retry          RetryPolicy
	PollInterval   time.Duration
	DefaultTimeout time.Duration
	VenueTimeouts  map[string]time.Duration
	// ResolveTimeout bounds the status/cancel calls made after a leg timed
	// out or was aborted.
	ResolveTimeout time.Duration
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		Retry:          DefaultRetryPolicy(),
		PollInterval:   200 * time.Millisecond,
		DefaultTimeout: 5 * time.Second,
		ResolveTimeout: 10 * time.Second,
	}
}

// Coordinator executes two-leg trades across registered venues.
type Coordinator struct {
	cfg    Config
	venues map[string]domain.Venue
	tokens *TokenIssuer
	logger *slog.Logger
}

// NewCoordinator creates a Coordinator over the given venues.
func NewCoordinator(cfg Config, venues []domain.Venue, tokens *TokenIssuer, logger *slog.Logger) *Coordinator {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = def.ResolveTimeout
	}
	if tokens == nil {
		tokens = NewTokenIssuer(24 * time.Hour)
	}
	m := make(map[string]domain.Venue, len(venues))
	for _, v := range venues {
		m[v.Name()] = v
	}
	return &Coordinator{
		cfg:    cfg,
		venues: m,
		tokens: tokens,
		logger: logger.With(slog.String("component", "coordinator")),
	}
}

func (c *Coordinator) timeoutFor(venue string) time.Duration {
	if t, ok := c.cfg.VenueTimeouts[venue]; ok && t > 0 {
		return t
	}
	return c.cfg.DefaultTimeout
}

// Execute places the buy and sell legs of an approved decision concurrently
// and waits for both to resolve. A trade that filled unevenly comes back as
// OutcomePartialFailure together with a *domain.PartialExecutionError.
func (c *Coordinator) Execute(ctx context.Context, dec domain.RiskDecision) (domain.TradeOutcome, error) {
	if !dec.Approved() {
		return domain.TradeOutcome{}, fmt.Errorf("executor: execute %s: %w", dec.ID, dec.Err())
	}
	opp := dec.Opportunity
	buyVenue, ok := c.venues[opp.Buy.Venue]
	if !ok {
		return domain.TradeOutcome{}, fmt.Errorf("executor: %s: %w", opp.Buy.Venue, domain.ErrUnknownVenue)
	}
	sellVenue, ok := c.venues[opp.Sell.Venue]
	if !ok {
		return domain.TradeOutcome{}, fmt.Errorf("executor: %s: %w", opp.Sell.Venue, domain.ErrUnknownVenue)
	}
	if !c.tokens.ClaimDecision(dec.ID) {
		return domain.TradeOutcome{}, fmt.Errorf("executor: %s: %w", dec.ID, domain.ErrDuplicateDecision)
	}

	out := domain.TradeOutcome{
		ID:            uuid.NewString(),
		DecisionID:    dec.ID,
		OpportunityID: opp.ID,
		Pair:          opp.Pair,
		StartedAt:     time.Now().UTC(),
	}
	log := c.logger.With(
		slog.String("outcome_id", out.ID),
		slog.String("pair", opp.Pair.String()),
		slog.String("size", dec.ApprovedSize.String()),
	)

	legs := [2]*leg{
		c.newLeg(buyVenue, domain.OrderRequest{
			Venue: opp.Buy.Venue, Pair: opp.Pair, Side: domain.SideBuy,
			Size: dec.ApprovedSize, Price: opp.Buy.Price, Token: c.tokens.Issue(),
		}, log),
		c.newLeg(sellVenue, domain.OrderRequest{
			Venue: opp.Sell.Venue, Pair: opp.Pair, Side: domain.SideSell,
			Size: dec.ApprovedSize, Price: opp.Sell.Price, Token: c.tokens.Issue(),
		}, log),
	}
	legs[0].sibling = legs[1].failed
	legs[1].sibling = legs[0].failed

	var g errgroup.Group
	for _, l := range legs {
		g.Go(func() error {
			l.run(ctx)
			return nil
		})
	}
	_ = g.Wait()

	out.Legs = []domain.LegResult{legs[0].result(), legs[1].result()}
	out.CompletedAt = time.Now().UTC()
	classify(&out, dec.ApprovedSize)

	log.InfoContext(ctx, "trade executed",
		slog.String("kind", string(out.Kind)),
		slog.String("buy_filled", legs[0].order.FilledSize.String()),
		slog.String("sell_filled", legs[1].order.FilledSize.String()),
		slog.Int("unhedged", len(out.Unhedged)),
	)

	if out.Kind == domain.OutcomePartialFailure {
		return out, &domain.PartialExecutionError{OutcomeID: out.ID, Unhedged: out.Unhedged}
	}
	return out, nil
}

// classify sets Kind and Unhedged from the leg results.
func classify(out *domain.TradeOutcome, size decimal.Decimal) {
	buy, sell := out.Legs[0], out.Legs[1]
	bf, sf := buy.Order.FilledSize, sell.Order.FilledSize
	unresolved := buy.Unresolved || sell.Unresolved

	switch {
	case !unresolved && bf.GreaterThanOrEqual(size) && sf.GreaterThanOrEqual(size):
		out.Kind = domain.OutcomeSuccess
		return
	case !unresolved && bf.IsZero() && sf.IsZero():
		out.Kind = domain.OutcomeAborted
		return
	}

	out.Kind = domain.OutcomePartialFailure
	net := bf.Sub(sf)
	switch {
	case net.IsPositive():
		out.Unhedged = append(out.Unhedged, domain.UnhedgedPosition{
			Venue: buy.Order.Venue, Pair: out.Pair, Side: domain.SideBuy,
			Size: net, Price: buy.Order.AvgPrice,
		})
	case net.IsNegative():
		out.Unhedged = append(out.Unhedged, domain.UnhedgedPosition{
			Venue: sell.Order.Venue, Pair: out.Pair, Side: domain.SideSell,
			Size: net.Neg(), Price: sell.Order.AvgPrice,
		})
	}
}
