package rest

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/britej3/Freq-trader/internal/domain"
)

// APIError is the exchange's error body.
type APIError struct {
	Status int    `json:"-"`
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("http %d: code %d: %s", e.Status, e.Code, e.Msg)
}

// apiOrder is the order object returned by submit and query.
type apiOrder struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	CumQuoteQty   string `json:"cummulativeQuoteQty"`
	Status        string `json:"status"`
	UpdateTime    int64  `json:"updateTime"`
	TransactTime  int64  `json:"transactTime"`
}

func (o apiOrder) exchangeID() string {
	if o.OrderID == 0 {
		return ""
	}
	return strconv.FormatInt(o.OrderID, 10)
}

func mapState(s string) (domain.OrderState, error) {
	switch s {
	case "NEW", "PENDING_NEW":
		return domain.OrderPending, nil
	case "PARTIALLY_FILLED":
		return domain.OrderPartiallyFilled, nil
	case "FILLED":
		return domain.OrderFilled, nil
	case "CANCELED", "EXPIRED", "EXPIRED_IN_MATCH":
		return domain.OrderCancelled, nil
	case "REJECTED":
		return domain.OrderFailed, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// toStatus converts the wire order. The average price is derived from the
// cumulative quote quantity; the fee is feeRate of it, in the quote asset.
// PENDING_CANCEL can still fill, so it stays non-terminal.
func (o apiOrder) toStatus(pair domain.Pair, feeRate decimal.Decimal) (domain.OrderStatus, error) {
	filled, err := parseDecimal(o.ExecutedQty)
	if err != nil {
		return domain.OrderStatus{}, fmt.Errorf("executedQty: %w", err)
	}
	quote, err := parseDecimal(o.CumQuoteQty)
	if err != nil {
		return domain.OrderStatus{}, fmt.Errorf("cummulativeQuoteQty: %w", err)
	}

	var state domain.OrderState
	switch {
	case o.Status == "PENDING_CANCEL" && filled.IsPositive():
		state = domain.OrderPartiallyFilled
	case o.Status == "PENDING_CANCEL":
		state = domain.OrderPending
	default:
		if state, err = mapState(o.Status); err != nil {
			return domain.OrderStatus{}, err
		}
	}

	st := domain.OrderStatus{
		Token:      o.ClientOrderID,
		ExchangeID: o.exchangeID(),
		State:      state,
		FilledSize: filled,
		AvgPrice:   decimal.Zero,
		Fee:        quote.Mul(feeRate),
		FeeAsset:   pair.Quote,
	}
	if filled.IsPositive() {
		st.AvgPrice = quote.DivRound(filled, 16)
	}
	ms := o.UpdateTime
	if ms == 0 {
		ms = o.TransactTime
	}
	if ms > 0 {
		st.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	return st, nil
}
