package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OpportunityLeg is one side of a cross-venue opportunity as quoted when it
// was detected.
type OpportunityLeg struct {
	Venue    string          `json:"venue"`
	Side     Side            `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Depth    decimal.Decimal `json:"depth"`
	FeeRate  decimal.Decimal `json:"fee_rate"`
	Sequence uint64          `json:"sequence"`
}

// Opportunity is a buy on one venue paired with a sell on another for the same
// pair, priced from a single snapshot generation.
type Opportunity struct {
	ID           string          `json:"id"`
	Pair         Pair            `json:"pair"`
	Buy          OpportunityLeg  `json:"buy"`
	Sell         OpportunityLeg  `json:"sell"`
	Generation   uint64          `json:"generation"`
	Size         decimal.Decimal `json:"size"`
	GrossSpread  decimal.Decimal `json:"gross_spread"`
	FeeCost      decimal.Decimal `json:"fee_cost"`
	SlippageCost decimal.Decimal `json:"slippage_cost"`
	NetProfit    decimal.Decimal `json:"net_profit"`
	NetPerUnit   decimal.Decimal `json:"net_per_unit"`
	Depth        decimal.Decimal `json:"depth"`
	DetectedAt   time.Time       `json:"detected_at"`
}

// Notional is the quote amount spent on the buy leg at the assumed size.
func (o Opportunity) Notional() decimal.Decimal {
	return o.Size.Mul(o.Buy.Price)
}

// RejectReason names the rule that decided a risk evaluation.
type RejectReason string

const (
	ReasonApproved            RejectReason = "approved"
	ReasonKillSwitch          RejectReason = "kill_switch"
	ReasonInvalidOpportunity  RejectReason = "invalid_opportunity"
	ReasonExposureCap         RejectReason = "exposure_cap"
	ReasonInsufficientBalance RejectReason = "insufficient_balance"
	ReasonRateLimited         RejectReason = "rate_limited"
	ReasonBelowMinSize        RejectReason = "below_min_size"
)

// RateWindow limits executions to MaxTrades within any trailing Window.
type RateWindow struct {
	Window    time.Duration `json:"window"`
	MaxTrades int           `json:"max_trades"`
}

// MinOrderSize is the smallest order a venue accepts for a pair.
type MinOrderSize struct {
	MinQty      decimal.Decimal `json:"min_qty"`
	MinNotional decimal.Decimal `json:"min_notional"`
}

// VenuePair keys per-venue, per-pair settings.
type VenuePair struct {
	Venue string
	Pair  Pair
}

// RiskParams is the full parameter set a risk decision is made against. A
// zero cap means the cap is not enforced.
type RiskParams struct {
	MaxNotionalPerTrade decimal.Decimal            `json:"max_notional_per_trade"`
	MaxExposurePerAsset map[string]decimal.Decimal `json:"max_exposure_per_asset"`
	DefaultMaxExposure  decimal.Decimal            `json:"default_max_exposure"`
	RateLimits          []RateWindow               `json:"rate_limits"`
	MinOrder            map[VenuePair]MinOrderSize `json:"-"`
	DefaultMinOrder     MinOrderSize               `json:"default_min_order"`
	KillSwitch          bool                       `json:"kill_switch"`
}

// ExposureCap returns the configured cap for asset.
func (p RiskParams) ExposureCap(asset string) decimal.Decimal {
	if c, ok := p.MaxExposurePerAsset[asset]; ok {
		return c
	}
	return p.DefaultMaxExposure
}

// MinOrderFor returns the minimum order size for venue and pair.
func (p RiskParams) MinOrderFor(venue string, pair Pair) MinOrderSize {
	if m, ok := p.MinOrder[VenuePair{Venue: venue, Pair: pair}]; ok {
		return m
	}
	return p.DefaultMinOrder
}

// Clone returns a deep copy so a decision's snapshot cannot change under it.
func (p RiskParams) Clone() RiskParams {
	out := p
	if p.MaxExposurePerAsset != nil {
		out.MaxExposurePerAsset = make(map[string]decimal.Decimal, len(p.MaxExposurePerAsset))
		for k, v := range p.MaxExposurePerAsset {
			out.MaxExposurePerAsset[k] = v
		}
	}
	if p.MinOrder != nil {
		out.MinOrder = make(map[VenuePair]MinOrderSize, len(p.MinOrder))
		for k, v := range p.MinOrder {
			out.MinOrder[k] = v
		}
	}
	out.RateLimits = append([]RateWindow(nil), p.RateLimits...)
	return out
}

// RiskDecision is the risk engine's verdict on one opportunity.
type RiskDecision struct {
	ID                string          `json:"id"`
	Opportunity       Opportunity     `json:"opportunity"`
	RequestedSize     decimal.Decimal `json:"requested_size"`
	RequestedNotional decimal.Decimal `json:"requested_notional"`
	ApprovedSize      decimal.Decimal `json:"approved_size"`
	ApprovedNotional  decimal.Decimal `json:"approved_notional"`
	Reason            RejectReason    `json:"reason"`
	Detail            string          `json:"detail,omitempty"`
	Adjustments       []string        `json:"adjustments,omitempty"`
	Params            RiskParams      `json:"params"`
	DecidedAt         time.Time       `json:"decided_at"`
}

// Approved reports whether the decision allows a non-zero trade.
func (d RiskDecision) Approved() bool {
	return d.Reason == ReasonApproved && d.ApprovedSize.IsPositive()
}

// Err returns a *RiskRejected for rejected decisions and nil otherwise.
func (d RiskDecision) Err() error {
	if d.Approved() {
		return nil
	}
	return &RiskRejected{Reason: d.Reason, Detail: d.Detail}
}
