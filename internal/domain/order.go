package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Side indicates whether an order buys or sells the base asset.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderState tracks the order lifecycle on a venue.
type OrderState string

const (
	OrderPending         OrderState = "pending"
	OrderPartiallyFilled OrderState = "partially_filled"
	OrderFilled          OrderState = "filled"
	OrderCancelled       OrderState = "cancelled"
	OrderFailed          OrderState = "failed"
)

// Terminal reports whether no further fills can happen in this state.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderFailed:
		return true
	default:
		return false
	}
}

// OrderRequest is what the coordinator asks a venue to place. Token is the
// client idempotency key: a venue that sees the same token twice must not
// create a second order.
type OrderRequest struct {
	Venue string          `json:"venue"`
	Pair  Pair            `json:"pair"`
	Side  Side            `json:"side"`
	Size  decimal.Decimal `json:"size"`
	Price decimal.Decimal `json:"price"`
	Token string          `json:"token"`
}

// OrderHandle addresses an order on a venue. A handle with only Token set is
// valid for status lookups after a lost submit response.
type OrderHandle struct {
	Venue      string `json:"venue"`
	Pair       Pair   `json:"pair"`
	Token      string `json:"token"`
	ExchangeID string `json:"exchange_id,omitempty"`
}

// OrderStatus is a venue's view of an order.
type OrderStatus struct {
	Token      string          `json:"token"`
	ExchangeID string          `json:"exchange_id,omitempty"`
	State      OrderState      `json:"state"`
	FilledSize decimal.Decimal `json:"filled_size"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	Fee        decimal.Decimal `json:"fee"`
	FeeAsset   string          `json:"fee_asset,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Order is the coordinator's record of one leg, owned by it until terminal.
type Order struct {
	OrderRequest
	ExchangeID  string          `json:"exchange_id,omitempty"`
	State       OrderState      `json:"state"`
	FilledSize  decimal.Decimal `json:"filled_size"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	Fee         decimal.Decimal `json:"fee"`
	FeeAsset    string          `json:"fee_asset,omitempty"`
	Attempts    int             `json:"attempts"`
	SubmittedAt time.Time       `json:"submitted_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Apply copies a venue status onto the order.
func (o *Order) Apply(st OrderStatus) {
	if st.ExchangeID != "" {
		o.ExchangeID = st.ExchangeID
	}
	o.State = st.State
	o.FilledSize = st.FilledSize
	o.AvgPrice = st.AvgPrice
	o.Fee = st.Fee
	o.FeeAsset = st.FeeAsset
	if st.UpdatedAt.IsZero() {
		o.UpdatedAt = time.Now().UTC()
	} else {
		o.UpdatedAt = st.UpdatedAt
	}
}

// Handle returns the handle addressing this order.
func (o Order) Handle() OrderHandle {
	return OrderHandle{Venue: o.Venue, Pair: o.Pair, Token: o.Token, ExchangeID: o.ExchangeID}
}

// Venue is an exchange order API. Implementations must treat Token as an
// idempotency key and must answer OrderStatus for a token even when the
// submit response was lost, returning ErrOrderNotFound if the order never
// reached the venue. Network-level failures are reported as *TransportError.
type Venue interface {
	Name() string
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderHandle, error)
	CancelOrder(ctx context.Context, h OrderHandle) error
	OrderStatus(ctx context.Context, h OrderHandle) (OrderStatus, error)
}
