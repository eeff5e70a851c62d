package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OutcomeKind classifies a finished two-leg execution.
type OutcomeKind string

const (
	OutcomeSuccess        OutcomeKind = "success"
	OutcomePartialFailure OutcomeKind = "partial_failure"
	OutcomeAborted        OutcomeKind = "aborted"
)

// LegResult is the final state of one leg.
type LegResult struct {
	Order      Order  `json:"order"`
	Unresolved bool   `json:"unresolved,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Fill is the executed part of a leg.
type Fill struct {
	OrderToken string          `json:"order_token"`
	Venue      string          `json:"venue"`
	Pair       Pair            `json:"pair"`
	Side       Side            `json:"side"`
	Size       decimal.Decimal `json:"size"`
	Price      decimal.Decimal `json:"price"`
	Fee        decimal.Decimal `json:"fee"`
	FeeAsset   string          `json:"fee_asset"`
}

// Notional is size * price in the quote asset.
func (f Fill) Notional() decimal.Decimal { return f.Size.Mul(f.Price) }

// FeeInQuote converts the fee to the quote asset at the fill price.
func (f Fill) FeeInQuote() decimal.Decimal {
	if f.FeeAsset == f.Pair.Base {
		return f.Fee.Mul(f.Price)
	}
	return f.Fee
}

// UnhedgedPosition is inventory left open by a partial execution.
type UnhedgedPosition struct {
	Venue string          `json:"venue"`
	Pair  Pair            `json:"pair"`
	Side  Side            `json:"side"`
	Size  decimal.Decimal `json:"size"`
	Price decimal.Decimal `json:"price"`
}

// TradeOutcome is the terminal result of executing a risk decision.
type TradeOutcome struct {
	ID            string             `json:"id"`
	DecisionID    string             `json:"decision_id"`
	OpportunityID string             `json:"opportunity_id"`
	Pair          Pair               `json:"pair"`
	Kind          OutcomeKind        `json:"kind"`
	Legs          []LegResult        `json:"legs"`
	Unhedged      []UnhedgedPosition `json:"unhedged,omitempty"`
	StartedAt     time.Time          `json:"started_at"`
	CompletedAt   time.Time          `json:"completed_at"`
}

// Fills returns the non-empty fills of every leg.
func (o TradeOutcome) Fills() []Fill {
	var fills []Fill
	for _, leg := range o.Legs {
		ord := leg.Order
		if !ord.FilledSize.IsPositive() && !ord.Fee.IsPositive() {
			continue
		}
		feeAsset := ord.FeeAsset
		if feeAsset == "" {
			feeAsset = ord.Pair.Quote
		}
		fills = append(fills, Fill{
			OrderToken: ord.Token,
			Venue:      ord.Venue,
			Pair:       ord.Pair,
			Side:       ord.Side,
			Size:       ord.FilledSize,
			Price:      ord.AvgPrice,
			Fee:        ord.Fee,
			FeeAsset:   feeAsset,
		})
	}
	return fills
}
