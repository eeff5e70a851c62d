package scanner

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/britej3/Freq-trader/internal/domain"
)

var bpsDivisor = decimal.NewFromInt(10_000)

// SlippageModel estimates the quote cost of filling size against a quoted
// level of the given depth. Implementations must return zero for a zero size
// and must never return less for a larger size.
type SlippageModel interface {
	Name() string
	Cost(side domain.Side, price, size, depth decimal.Decimal) decimal.Decimal
}

// NoSlippage assumes fills at the quoted price.
type NoSlippage struct{}

func (NoSlippage) Name() string { return "none" }

func (NoSlippage) Cost(domain.Side, decimal.Decimal, decimal.Decimal, decimal.Decimal) decimal.Decimal {
	return decimal.Zero
}

// FixedBps charges a flat number of basis points on the leg notional.
type FixedBps struct {
	Bps decimal.Decimal
}

func (FixedBps) Name() string { return "fixed_bps" }

func (m FixedBps) Cost(_ domain.Side, price, size, _ decimal.Decimal) decimal.Decimal {
	if !size.IsPositive() {
		return decimal.Zero
	}
	return size.Mul(price).Mul(m.Bps).Div(bpsDivisor)
}

// LinearDepth grows the per-unit cost linearly with the share of the quoted
// depth being taken: cost = size * price * k * size/depth.
type LinearDepth struct {
	Coefficient decimal.Decimal
}

func (LinearDepth) Name() string { return "linear_depth" }

func (m LinearDepth) Cost(_ domain.Side, price, size, depth decimal.Decimal) decimal.Decimal {
	if !size.IsPositive() || !depth.IsPositive() {
		return decimal.Zero
	}
	return size.Mul(price).Mul(m.Coefficient).Mul(size).Div(depth)
}

// NewSlippageModel builds a model by name. param is the bps for fixed_bps and
// the coefficient for linear_depth; it is ignored for none.
func NewSlippageModel(name string, param decimal.Decimal) (SlippageModel, error) {
	if param.IsNegative() {
		return nil, fmt.Errorf("scanner: slippage parameter must be >= 0, got %s", param)
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return NoSlippage{}, nil
	case "fixed_bps":
		return FixedBps{Bps: param}, nil
	case "linear_depth":
		return LinearDepth{Coefficient: param}, nil
	default:
		return nil, fmt.Errorf("scanner: unknown slippage model %q", name)
	}
}
