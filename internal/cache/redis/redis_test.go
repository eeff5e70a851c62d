package redis

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/britej3/Freq-trader/internal/domain"
)

func TestJoinKey(t *testing.T) {
	assert.Equal(t, "lock:arbbot:engine", joinKey("", "lock", "arbbot:engine"))
	assert.Equal(t, "bot1:snap:A:BTCUSDT", joinKey("bot1", "snap", "A", "BTCUSDT"))
	c := &Client{prefix: "bot1"}
	assert.Equal(t, "bot1:ratelimit:binance", c.Key("ratelimit", "binance"))
}

func TestSnapshotFieldsRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)
	in := domain.MarketSnapshot{
		BidPrice:  decimal.RequireFromString("99.5"),
		BidSize:   decimal.RequireFromString("1.25"),
		AskPrice:  decimal.RequireFromString("100.01"),
		AskSize:   decimal.RequireFromString("3"),
		Sequence:  42,
		Timestamp: ts,
	}
	fields := snapshotFields(in)
	require.Len(t, fields, 12)

	vals := make(map[string]string)
	for i := 0; i < len(fields); i += 2 {
		vals[fields[i]] = fields[i+1]
	}
	out, err := parseSnapshot(vals)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), out.Sequence)
	assert.True(t, out.BidPrice.Equal(in.BidPrice))
	assert.True(t, out.AskSize.Equal(in.AskSize))
	assert.True(t, out.Timestamp.Equal(ts))
}

func TestParseSnapshotRejectsCorruptHash(t *testing.T) {
	_, err := parseSnapshot(map[string]string{"seq": "x"})
	assert.ErrorContains(t, err, "seq")

	_, err = parseSnapshot(map[string]string{"seq": "1", "bid": "1", "bid_size": "1", "ask": "nan?", "ask_size": "1", "ts": "0"})
	assert.Error(t, err)
}

func TestWaitPoll(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, waitPoll(10, time.Second))
	assert.Equal(t, waitPollMin, waitPoll(1000, time.Second))
	assert.Equal(t, waitPollMax, waitPoll(1, time.Minute))
	assert.Equal(t, waitPollMin, waitPoll(0, time.Second))
}

func TestStreamPayload(t *testing.T) {
	b, ok := streamPayload(map[string]any{"payload": "abc"})
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), b)

	_, ok = streamPayload(map[string]any{"other": "abc"})
	assert.False(t, ok)
}
