package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/britej3/Freq-trader/internal/crypto"
	"github.com/britej3/Freq-trader/internal/domain"
)

var (
	d   = decimal.RequireFromString
	btc = domain.MustPair("BTC/USDT")
)

// fakeExchange is a minimal signed-order endpoint.
type fakeExchange struct {
	auth   *crypto.HMACAuth
	mu     sync.Mutex
	orders map[string]*apiOrder
	nextID int64
	fill   bool
	fail   int
	reject bool
	calls  int
}

func (f *fakeExchange) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	raw := r.URL.RawQuery
	i := strings.LastIndex(raw, "&signature=")
	if r.Header.Get(apiKeyHeader) != f.auth.Key || i < 0 || !f.auth.Verify(raw[:i], raw[i+len("&signature="):]) {
		writeErr(w, http.StatusUnauthorized, -2015, "Invalid API-key, IP, or permissions for action.")
		return
	}
	if f.fail > 0 {
		f.fail--
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
		return
	}

	q, _ := url.ParseQuery(raw[:i])
	switch r.Method {
	case http.MethodPost:
		if f.reject {
			writeErr(w, http.StatusBadRequest, -1013, "Filter failure: LOT_SIZE")
			return
		}
		tok := q.Get("newClientOrderId")
		if _, ok := f.orders[tok]; ok {
			writeErr(w, http.StatusBadRequest, codeDuplicateOrder, "Duplicate order sent.")
			return
		}
		f.nextID++
		o := &apiOrder{
			Symbol: q.Get("symbol"), OrderID: f.nextID, ClientOrderID: tok,
			Price: q.Get("price"), OrigQty: q.Get("quantity"),
			ExecutedQty: "0", CumQuoteQty: "0", Status: "NEW",
			TransactTime: 1700000000000,
		}
		if f.fill {
			o.ExecutedQty = o.OrigQty
			o.CumQuoteQty = d(o.OrigQty).Mul(d(o.Price)).String()
			o.Status = "FILLED"
		}
		f.orders[tok] = o
		_ = json.NewEncoder(w).Encode(o)
	case http.MethodGet:
		o, ok := f.orders[q.Get("origClientOrderId")]
		if !ok {
			writeErr(w, http.StatusBadRequest, codeNoSuchOrder, "Order does not exist.")
			return
		}
		_ = json.NewEncoder(w).Encode(o)
	case http.MethodDelete:
		o, ok := f.orders[q.Get("origClientOrderId")]
		if !ok {
			writeErr(w, http.StatusBadRequest, codeCancelRejected, "Unknown order sent.")
			return
		}
		if o.Status == "FILLED" {
			writeErr(w, http.StatusBadRequest, codeCancelRejected, "Order was already filled.")
			return
		}
		o.Status = "CANCELED"
		_ = json.NewEncoder(w).Encode(o)
	}
}

func writeErr(w http.ResponseWriter, status, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "msg": msg})
}

type countingLimiter struct{ waits int }

func (l *countingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}

func (l *countingLimiter) Wait(context.Context, string, int, time.Duration) error {
	l.waits++
	return nil
}

func setup(t *testing.T, ex *fakeExchange, opts ...Option) *Venue {
	t.Helper()
	ex.orders = make(map[string]*apiOrder)
	if ex.auth == nil {
		ex.auth = &crypto.HMACAuth{Key: "key", Secret: "secret"}
	}
	srv := httptest.NewServer(ex)
	t.Cleanup(srv.Close)
	return New(Config{
		Name:      "binance",
		BaseURL:   srv.URL,
		Auth:      &crypto.HMACAuth{Key: "key", Secret: "secret", RecvWindow: 5 * time.Second},
		FeeRate:   d("0.001"),
		RateLimit: 10,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func order(token string) domain.OrderRequest {
	return domain.OrderRequest{Venue: "binance", Pair: btc, Side: domain.SideBuy, Size: d("0.5"), Price: d("100"), Token: token}
}

func TestSubmitAndQueryFilledOrder(t *testing.T) {
	ex := &fakeExchange{fill: true}
	lim := &countingLimiter{}
	v := setup(t, ex, WithRateLimiter(lim))
	ctx := context.Background()

	h, err := v.SubmitOrder(ctx, order("tok-1"))
	require.NoError(t, err)
	assert.Equal(t, "1", h.ExchangeID)
	assert.Equal(t, "tok-1", h.Token)

	st, err := v.OrderStatus(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, st.State)
	assert.True(t, st.FilledSize.Equal(d("0.5")))
	assert.True(t, st.AvgPrice.Equal(d("100")))
	assert.True(t, st.Fee.Equal(d("0.05")))
	assert.Equal(t, "USDT", st.FeeAsset)
	assert.Equal(t, 2, lim.waits)
}

func TestDuplicateSubmitResolvesExistingOrder(t *testing.T) {
	ex := &fakeExchange{}
	v := setup(t, ex)
	ctx := context.Background()

	h1, err := v.SubmitOrder(ctx, order("tok-2"))
	require.NoError(t, err)
	h2, err := v.SubmitOrder(ctx, order("tok-2"))
	require.NoError(t, err)
	assert.Equal(t, h1.ExchangeID, h2.ExchangeID)
	assert.Len(t, ex.orders, 1)
}

func TestCancelAndNotFound(t *testing.T) {
	ex := &fakeExchange{}
	v := setup(t, ex)
	ctx := context.Background()

	h, err := v.SubmitOrder(ctx, order("tok-3"))
	require.NoError(t, err)
	require.NoError(t, v.CancelOrder(ctx, h))
	st, err := v.OrderStatus(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, st.State)

	missing := domain.OrderHandle{Venue: "binance", Pair: btc, Token: "never-sent"}
	_, err = v.OrderStatus(ctx, missing)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.ErrorIs(t, v.CancelOrder(ctx, missing), domain.ErrOrderNotFound)
}

func TestCancelFilledOrderIsRejectedNotMissing(t *testing.T) {
	ex := &fakeExchange{fill: true}
	v := setup(t, ex)
	ctx := context.Background()

	h, err := v.SubmitOrder(ctx, order("tok-4"))
	require.NoError(t, err)
	err = v.CancelOrder(ctx, h)
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrOrderNotFound))
	assert.False(t, domain.IsTransport(err))
}

func TestErrorClassification(t *testing.T) {
	ctx := context.Background()

	ex := &fakeExchange{fail: 1}
	v := setup(t, ex)
	_, err := v.SubmitOrder(ctx, order("tok-5"))
	assert.True(t, domain.IsTransport(err))

	ex = &fakeExchange{reject: true}
	v = setup(t, ex)
	_, err = v.SubmitOrder(ctx, order("tok-6"))
	assert.ErrorIs(t, err, domain.ErrOrderRejected)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, -1013, apiErr.Code)

	ex = &fakeExchange{auth: &crypto.HMACAuth{Key: "key", Secret: "other"}}
	v = setup(t, ex)
	_, err = v.SubmitOrder(ctx, order("tok-7"))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestUnreachableVenueIsTransport(t *testing.T) {
	v := New(Config{Name: "x", BaseURL: "http://127.0.0.1:1", Auth: &crypto.HMACAuth{}, Timeout: time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := v.OrderStatus(context.Background(), domain.OrderHandle{Pair: btc, Token: "t"})
	assert.True(t, domain.IsTransport(err))
}

func TestToStatus(t *testing.T) {
	cases := []struct {
		status, executed string
		want             domain.OrderState
	}{
		{"NEW", "0", domain.OrderPending},
		{"PARTIALLY_FILLED", "1", domain.OrderPartiallyFilled},
		{"FILLED", "2", domain.OrderFilled},
		{"CANCELED", "1", domain.OrderCancelled},
		{"EXPIRED", "0", domain.OrderCancelled},
		{"REJECTED", "0", domain.OrderFailed},
		{"PENDING_CANCEL", "0", domain.OrderPending},
		{"PENDING_CANCEL", "1", domain.OrderPartiallyFilled},
	}
	for _, tc := range cases {
		t.Run(tc.status+"/"+tc.executed, func(t *testing.T) {
			o := apiOrder{Status: tc.status, ExecutedQty: tc.executed, CumQuoteQty: d(tc.executed).Mul(d("101")).String()}
			st, err := o.toStatus(btc, d("0.001"))
			require.NoError(t, err)
			assert.Equal(t, tc.want, st.State)
			if d(tc.executed).IsPositive() {
				assert.True(t, st.AvgPrice.Equal(d("101")))
			}
		})
	}

	_, err := apiOrder{Status: "WEIRD"}.toStatus(btc, decimal.Zero)
	assert.Error(t, err)
}
