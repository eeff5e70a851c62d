// Package risk decides whether, and at what size, an opportunity may be
// traded. Decisions depend only on the parameters, the opportunity, and the
// exposure view passed in.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/britej3/Freq-trader/internal/domain"
)

// sizeScale is the number of decimal places sizes are floored to when a cap
// shrinks an order.
const sizeScale = 8

// Engine evaluates opportunities against a set of limits. Limits can be
// swapped at runtime; each decision records the set it used.
type Engine struct {
	mu     sync.RWMutex
	params domain.RiskParams
}

// NewEngine creates an Engine with the given limits.
func NewEngine(p domain.RiskParams) *Engine {
	return &Engine{params: p.Clone()}
}

// Params returns a copy of the active limits.
func (e *Engine) Params() domain.RiskParams {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params.Clone()
}

// SetParams replaces the active limits.
func (e *Engine) SetParams(p domain.RiskParams) {
	e.mu.Lock()
	e.params = p.Clone()
	e.mu.Unlock()
}

// SetKillSwitch toggles the kill switch.
func (e *Engine) SetKillSwitch(on bool) {
	e.mu.Lock()
	e.params.KillSwitch = on
	e.mu.Unlock()
}

// Evaluate applies the rules in order: per-trade cap, capital headroom (open
// exposure then balances), rate limits, minimum size. Caps shrink the order;
// the first rule that leaves nothing tradable rejects it.
func (e *Engine) Evaluate(opp domain.Opportunity, view domain.ExposureView) domain.RiskDecision {
	return Evaluate(e.Params(), opp, view)
}

// Evaluate is the stateless form of Engine.Evaluate.
func Evaluate(p domain.RiskParams, opp domain.Opportunity, view domain.ExposureView) domain.RiskDecision {
	now := view.AsOf
	if now.IsZero() {
		now = time.Now().UTC()
	}

	dec := domain.RiskDecision{
		ID:                "dec:" + opp.ID,
		Opportunity:       opp,
		RequestedSize:     opp.Size,
		RequestedNotional: opp.Notional(),
		Params:            p,
		DecidedAt:         now,
	}
	reject := func(reason domain.RejectReason, detail string) domain.RiskDecision {
		dec.Reason = reason
		dec.Detail = detail
		dec.ApprovedSize = decimal.Zero
		dec.ApprovedNotional = decimal.Zero
		return dec
	}

	if p.KillSwitch {
		return reject(domain.ReasonKillSwitch, "")
	}
	if !opp.Size.IsPositive() || !opp.Buy.Price.IsPositive() || !opp.Sell.Price.IsPositive() {
		return reject(domain.ReasonInvalidOpportunity, "non-positive size or price")
	}
	if opp.Buy.Venue == opp.Sell.Venue {
		return reject(domain.ReasonInvalidOpportunity, "both legs on "+opp.Buy.Venue)
	}

	price := opp.Buy.Price
	size := opp.Size

	// Per-trade notional cap.
	if cap := p.MaxNotionalPerTrade; cap.IsPositive() && size.Mul(price).GreaterThan(cap) {
		size = floorDiv(cap, price)
		dec.Adjustments = append(dec.Adjustments, "per_trade_cap")
	}

	// Aggregate exposure in the base asset.
	asset := opp.Pair.Base
	if cap := p.ExposureCap(asset); cap.IsPositive() {
		headroom := cap.Sub(view.ExposureOf(asset))
		if !headroom.IsPositive() {
			return reject(domain.ReasonExposureCap, fmt.Sprintf("%s exposure at cap %s", asset, cap))
		}
		if size.Mul(price).GreaterThan(headroom) {
			size = floorDiv(headroom, price)
			dec.Adjustments = append(dec.Adjustments, "exposure_cap")
		}
		if !size.IsPositive() {
			return reject(domain.ReasonExposureCap, fmt.Sprintf("%s headroom %s too small", asset, headroom))
		}
	}

	// Available balances: quote plus fee on the buy venue, base on the sell
	// venue.
	quoteBal := view.Balance(opp.Buy.Venue, opp.Pair.Quote)
	perUnit := price.Mul(decimal.NewFromInt(1).Add(opp.Buy.FeeRate))
	if maxByQuote := floorDiv(quoteBal, perUnit); size.GreaterThan(maxByQuote) {
		size = maxByQuote
		dec.Adjustments = append(dec.Adjustments, "quote_balance")
	}
	baseBal := view.Balance(opp.Sell.Venue, opp.Pair.Base)
	if size.GreaterThan(baseBal) {
		size = baseBal.Truncate(sizeScale)
		dec.Adjustments = append(dec.Adjustments, "base_balance")
	}
	if !size.IsPositive() {
		return reject(domain.ReasonInsufficientBalance, fmt.Sprintf(
			"%s %s=%s, %s %s=%s", opp.Buy.Venue, opp.Pair.Quote, quoteBal, opp.Sell.Venue, opp.Pair.Base, baseBal))
	}

	// Rate limits.
	for _, w := range p.RateLimits {
		if w.MaxTrades <= 0 || w.Window <= 0 {
			continue
		}
		if n := countSince(view.RecentExecutions, now, w.Window); n >= w.MaxTrades {
			return reject(domain.ReasonRateLimited, fmt.Sprintf("%d trades in %s (max %d)", n, w.Window, w.MaxTrades))
		}
	}

	// Minimum viable size on each leg.
	for _, leg := range []domain.OpportunityLeg{opp.Buy, opp.Sell} {
		m := p.MinOrderFor(leg.Venue, opp.Pair)
		if m.MinQty.IsPositive() && size.LessThan(m.MinQty) {
			return reject(domain.ReasonBelowMinSize, fmt.Sprintf("%s size %s < min qty %s", leg.Venue, size, m.MinQty))
		}
		if n := size.Mul(leg.Price); m.MinNotional.IsPositive() && n.LessThan(m.MinNotional) {
			return reject(domain.ReasonBelowMinSize, fmt.Sprintf("%s notional %s < min notional %s", leg.Venue, n, m.MinNotional))
		}
	}

	dec.Reason = domain.ReasonApproved
	dec.ApprovedSize = size
	dec.ApprovedNotional = size.Mul(price)
	return dec
}

// floorDiv returns a/b floored to sizeScale places, so the result times b
// never exceeds a.
func floorDiv(a, b decimal.Decimal) decimal.Decimal {
	if !a.IsPositive() || !b.IsPositive() {
		return decimal.Zero
	}
	q := a.DivRound(b, sizeScale+4).Truncate(sizeScale)
	for q.IsPositive() && q.Mul(b).GreaterThan(a) {
		q = q.Sub(decimal.New(1, -sizeScale))
	}
	return q
}

func countSince(times []time.Time, now time.Time, window time.Duration) int {
	n := 0
	for _, t := range times {
		if !t.After(now) && now.Sub(t) < window {
			n++
		}
	}
	return n
}
