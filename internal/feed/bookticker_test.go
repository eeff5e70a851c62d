package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/britej3/Freq-trader/internal/domain"
	"github.com/britej3/Freq-trader/internal/market"
)

var (
	btc = domain.MustPair("BTC/USDT")
	eth = domain.MustPair("ETH/USDT")
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// wsServer sends msgs on every connection, then either holds the connection
// open or closes it.
func wsServer(t *testing.T, msgs []string, hold bool, conns *atomic.Int32) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		conns.Add(1)
		for _, m := range msgs {
			if err := c.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		if hold {
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
}

type memMirror struct {
	mu    sync.Mutex
	snaps []domain.MarketSnapshot
}

func (m *memMirror) Mirror(_ context.Context, s domain.MarketSnapshot) error {
	m.mu.Lock()
	m.snaps = append(m.snaps, s)
	m.mu.Unlock()
	return nil
}

func (m *memMirror) Get(context.Context, string, domain.Pair) (domain.MarketSnapshot, error) {
	return domain.MarketSnapshot{}, domain.ErrNotFound
}

func (m *memMirror) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps)
}

func TestFeedPushesQuotesIntoStore(t *testing.T) {
	var conns atomic.Int32
	url := wsServer(t, []string{
		`{"stream":"btcusdt@bookTicker","data":{"u":10,"s":"BTCUSDT","b":"99.5","B":"2","a":"100.5","A":"3"}}`,
		`{"stream":"btcusdt@bookTicker","data":{"u":9,"s":"BTCUSDT","b":"1","B":"1","a":"2","A":"1"}}`,
		`{"stream":"solusdt@bookTicker","data":{"u":1,"s":"SOLUSDT","b":"1","B":"1","a":"2","A":"1"}}`,
		`{"u":5,"s":"ETHUSDT","b":"10","B":"1","a":"11","A":"1","E":1700000000000}`,
		`not json`,
	}, true, &conns)

	store := market.NewStore()
	mirror := &memMirror{}
	f := NewBookTickerFeed(Config{Venue: "binance", URL: url, Pairs: []domain.Pair{btc, eth}}, store, testLogger(), WithMirror(mirror))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	require.Eventually(t, func() bool {
		st := f.Stats()
		return st.Updates+st.Stale+st.Malformed == 5
	}, 2*time.Second, 5*time.Millisecond)

	st := f.Stats()
	assert.Equal(t, 2, st.Updates)
	assert.Equal(t, 1, st.Stale)
	assert.Equal(t, 2, st.Malformed)
	assert.Equal(t, 2, mirror.len())

	snap, ok := store.Get("binance", btc)
	require.True(t, ok)
	assert.Equal(t, uint64(10), snap.Sequence)
	assert.True(t, snap.BidPrice.Equal(decimal.RequireFromString("99.5")))
	assert.True(t, snap.AskSize.Equal(decimal.NewFromInt(3)))

	ethSnap, ok := store.Get("binance", eth)
	require.True(t, ok)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), ethSnap.Timestamp)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop")
	}
}

func TestFeedReconnects(t *testing.T) {
	var conns atomic.Int32
	url := wsServer(t, []string{
		`{"u":1,"s":"BTCUSDT","b":"1","B":"1","a":"2","A":"1"}`,
	}, false, &conns)

	f := NewBookTickerFeed(Config{
		Venue: "binance", URL: url, Pairs: []domain.Pair{btc},
		ReconnectBase: 5 * time.Millisecond, ReconnectMax: 20 * time.Millisecond,
	}, market.NewStore(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()

	require.Eventually(t, func() bool { return conns.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, f.Stats().Connects, 2)
}

func TestStreamURL(t *testing.T) {
	f := NewBookTickerFeed(Config{Venue: "v", URL: "wss://stream.example.com:9443/stream", Pairs: []domain.Pair{btc, eth}},
		market.NewStore(), testLogger())
	u, err := f.StreamURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://stream.example.com:9443/stream?streams=btcusdt%40bookTicker%2Fethusdt%40bookTicker", u)
}

func TestRunWithoutPairsWaitsForCancel(t *testing.T) {
	f := NewBookTickerFeed(Config{Venue: "v"}, market.NewStore(), testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.Run(ctx), context.DeadlineExceeded)
}
