package paper

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/britej3/Freq-trader/internal/domain"
	"github.com/britej3/Freq-trader/internal/market"
)

var (
	d   = decimal.RequireFromString
	btc = domain.MustPair("BTC/USDT")
	ctx = context.Background()
)

func setup(t *testing.T, cfg Config) (*Venue, *market.Store) {
	t.Helper()
	store := market.NewStore()
	require.NoError(t, store.Push("A", btc, d("99"), d("100"), d("3"), d("2"), 1, time.Now()))
	if cfg.Name == "" {
		cfg.Name = "A"
	}
	return New(cfg, store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func req(side domain.Side, size, price, token string) domain.OrderRequest {
	return domain.OrderRequest{Venue: "A", Pair: btc, Side: side, Size: d(size), Price: d(price), Token: token}
}

func TestMarketableBuyFillsAtAsk(t *testing.T) {
	v, _ := setup(t, Config{FeeRate: d("0.001")})

	h, err := v.SubmitOrder(ctx, req(domain.SideBuy, "1", "101", "t1"))
	require.NoError(t, err)
	assert.NotEmpty(t, h.ExchangeID)

	st, err := v.OrderStatus(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, st.State)
	assert.True(t, st.AvgPrice.Equal(d("100")), "price improvement to the ask")
	assert.True(t, st.Fee.Equal(d("0.1")))
	assert.Equal(t, "USDT", st.FeeAsset)
}

func TestNonMarketableOrderRestsUntilCancelled(t *testing.T) {
	v, _ := setup(t, Config{})

	h, err := v.SubmitOrder(ctx, req(domain.SideSell, "1", "105", "t2"))
	require.NoError(t, err)

	st, err := v.OrderStatus(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, st.State)

	require.NoError(t, v.CancelOrder(ctx, h))
	st, err = v.OrderStatus(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, st.State)
	assert.True(t, st.FilledSize.IsZero())
}

func TestDepthLimitsFillAndQuoteIsConsumedOnce(t *testing.T) {
	v, store := setup(t, Config{LimitToDepth: true})

	h, err := v.SubmitOrder(ctx, req(domain.SideBuy, "5", "100", "t3"))
	require.NoError(t, err)

	st, err := v.OrderStatus(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPartiallyFilled, st.State)
	assert.True(t, st.FilledSize.Equal(d("2")))

	st, err = v.OrderStatus(ctx, h)
	require.NoError(t, err)
	assert.True(t, st.FilledSize.Equal(d("2")), "same quote is not matched twice")

	require.NoError(t, store.Push("A", btc, d("99"), d("99.5"), d("3"), d("3"), 2, time.Now()))
	st, err = v.OrderStatus(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, st.State)
	assert.True(t, st.FilledSize.Equal(d("5")))
	assert.True(t, st.AvgPrice.Equal(d("99.7")))
}

func TestResubmittedTokenIsIdempotent(t *testing.T) {
	v, _ := setup(t, Config{})

	h1, err := v.SubmitOrder(ctx, req(domain.SideBuy, "1", "100", "t4"))
	require.NoError(t, err)
	h2, err := v.SubmitOrder(ctx, req(domain.SideBuy, "1", "100", "t4"))
	require.NoError(t, err)

	assert.Equal(t, h1.ExchangeID, h2.ExchangeID)
	assert.Len(t, v.orders, 1)
}

func TestFillLatency(t *testing.T) {
	v, _ := setup(t, Config{FillLatency: time.Second})
	clock := time.Now()
	v.now = func() time.Time { return clock }

	h, err := v.SubmitOrder(ctx, req(domain.SideBuy, "1", "100", "t5"))
	require.NoError(t, err)

	st, _ := v.OrderStatus(ctx, h)
	assert.Equal(t, domain.OrderPending, st.State)

	clock = clock.Add(2 * time.Second)
	st, _ = v.OrderStatus(ctx, h)
	assert.Equal(t, domain.OrderFilled, st.State)
}

func TestUnknownAndInvalidOrders(t *testing.T) {
	v, _ := setup(t, Config{})

	_, err := v.OrderStatus(ctx, domain.OrderHandle{Token: "nope"})
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.ErrorIs(t, v.CancelOrder(ctx, domain.OrderHandle{Token: "nope"}), domain.ErrOrderNotFound)

	_, err = v.SubmitOrder(ctx, req(domain.SideBuy, "0", "100", "t6"))
	assert.ErrorIs(t, err, domain.ErrOrderRejected)

	other := req(domain.SideBuy, "1", "100", "t7")
	other.Pair = domain.MustPair("ETH/USDT")
	_, err = v.SubmitOrder(ctx, other)
	assert.ErrorIs(t, err, domain.ErrOrderRejected)
}

func TestQuoteIsSharedAcrossOrders(t *testing.T) {
	v, store := setup(t, Config{})

	// The ask shows 2; the first order takes all of it.
	h1, err := v.SubmitOrder(ctx, req(domain.SideBuy, "2", "100", "q1"))
	require.NoError(t, err)
	st, err := v.OrderStatus(ctx, h1)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, st.State)

	// An unrelated pair moving on does not refresh this quote.
	require.NoError(t, store.Push("A", domain.MustPair("ETH/USDT"), d("9"), d("10"), d("1"), d("1"), 1, time.Now()))

	h2, err := v.SubmitOrder(ctx, req(domain.SideBuy, "1", "100", "q2"))
	require.NoError(t, err)
	st, err = v.OrderStatus(ctx, h2)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, st.State, "the displayed size is already taken")

	// The bid side is untouched.
	h3, err := v.SubmitOrder(ctx, req(domain.SideSell, "1", "99", "q3"))
	require.NoError(t, err)
	st, err = v.OrderStatus(ctx, h3)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, st.State)

	// A new quote for the pair fills the waiting order.
	require.NoError(t, store.Push("A", btc, d("99"), d("100"), d("3"), d("2"), 2, time.Now()))
	st, err = v.OrderStatus(ctx, h2)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, st.State)
}

func TestLimitToDepthSplitsQuoteBetweenOrders(t *testing.T) {
	v, _ := setup(t, Config{LimitToDepth: true})

	h1, err := v.SubmitOrder(ctx, req(domain.SideBuy, "1.5", "100", "s1"))
	require.NoError(t, err)
	h2, err := v.SubmitOrder(ctx, req(domain.SideBuy, "1.5", "100", "s2"))
	require.NoError(t, err)

	st1, err := v.OrderStatus(ctx, h1)
	require.NoError(t, err)
	st2, err := v.OrderStatus(ctx, h2)
	require.NoError(t, err)

	assert.True(t, st1.FilledSize.Add(st2.FilledSize).Equal(d("2")), "together they take the displayed 2")
}
