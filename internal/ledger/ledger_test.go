package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/britej3/Freq-trader/internal/domain"
)

var (
	d   = decimal.RequireFromString
	btc = domain.MustPair("BTC/USDT")
	ctx = context.Background()
)

type memJournal struct {
	mu      sync.Mutex
	batches []domain.LedgerBatch
	failing bool
}

func (j *memJournal) Append(_ context.Context, b domain.LedgerBatch) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failing {
		return errors.New("connection refused")
	}
	j.batches = append(j.batches, b)
	return nil
}

func (j *memJournal) Load(context.Context) ([]domain.LedgerBatch, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.LedgerBatch(nil), j.batches...), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func leg(token, venue string, side domain.Side, size, price, fee string) domain.LegResult {
	state := domain.OrderFilled
	if d(size).IsZero() {
		state = domain.OrderCancelled
	}
	return domain.LegResult{Order: domain.Order{
		OrderRequest: domain.OrderRequest{Venue: venue, Pair: btc, Side: side, Size: d(size), Price: d(price), Token: token},
		State:        state,
		FilledSize:   d(size),
		AvgPrice:     d(price),
		Fee:          d(fee),
		FeeAsset:     "USDT",
	}}
}

// outcome buys on A and sells on B.
func outcome(id, buySize, sellSize string) domain.TradeOutcome {
	kind := domain.OutcomeSuccess
	if buySize != sellSize {
		kind = domain.OutcomePartialFailure
	}
	return domain.TradeOutcome{
		ID:   id,
		Pair: btc,
		Kind: kind,
		Legs: []domain.LegResult{
			leg(id+"-buy", "A", domain.SideBuy, buySize, "100", "0"),
			leg(id+"-sell", "B", domain.SideSell, sellSize, "101", "0"),
		},
	}
}

func funded(t *testing.T, opts ...Option) *Ledger {
	t.Helper()
	l := New(testLogger(), opts...)
	require.NoError(t, l.Deposit(ctx, "A", "USDT", d("10000")))
	require.NoError(t, l.Deposit(ctx, "B", "BTC", d("10")))
	return l
}

func TestApplySuccessfulTrade(t *testing.T) {
	l := funded(t)
	out := outcome("o1", "2", "2")
	out.Legs[0].Order.Fee = d("0.2")
	out.Legs[1].Order.Fee = d("0.202")

	bals, err := l.Apply(ctx, out)
	require.NoError(t, err)

	assert.True(t, bals[domain.BalanceKey{Venue: "A", Asset: "USDT"}].Equal(d("9799.8")))
	assert.True(t, bals[domain.BalanceKey{Venue: "A", Asset: "BTC"}].Equal(d("2")))
	assert.True(t, bals[domain.BalanceKey{Venue: "B", Asset: "BTC"}].Equal(d("8")))
	assert.True(t, bals[domain.BalanceKey{Venue: "B", Asset: "USDT"}].Equal(d("201.798")))

	trades := l.TradeHistory()
	require.Len(t, trades, 1)
	tr := trades[0]
	assert.True(t, tr.GrossPnL.Equal(d("2")))
	assert.True(t, tr.Fees.Equal(d("0.402")))
	assert.True(t, tr.RealizedPnL.Equal(d("1.598")))
	assert.True(t, tr.Notional.Equal(d("202")))

	assert.True(t, l.SnapshotExposure("BTC").IsZero(), "hedged trade leaves no exposure")
	assert.NoError(t, l.Verify())
}

func TestApplyPartialRecordsOnlyFilledLeg(t *testing.T) {
	l := funded(t)
	out := outcome("o2", "2", "0")
	out.Unhedged = []domain.UnhedgedPosition{{Venue: "A", Pair: btc, Side: domain.SideBuy, Size: d("2"), Price: d("100")}}

	_, err := l.Apply(ctx, out)
	require.NoError(t, err)

	assert.True(t, l.Balance("A", "BTC").Equal(d("2")))
	assert.True(t, l.Balance("B", "BTC").Equal(d("10")), "no synthetic sell fill")
	assert.True(t, l.Balance("B", "USDT").IsZero())

	assert.True(t, l.SnapshotExposure("BTC").Equal(d("200")))
	pos := l.Positions()
	require.Len(t, pos, 1)
	assert.True(t, pos[0].Quantity.Equal(d("2")))

	tr := l.TradeHistory()[0]
	assert.True(t, tr.GrossPnL.IsZero())
	assert.Len(t, tr.Unhedged, 1)
	assert.Len(t, tr.Fills, 1)
}

func TestApplyIsIdempotent(t *testing.T) {
	l := funded(t)
	_, err := l.Apply(ctx, outcome("o3", "1", "1"))
	require.NoError(t, err)
	before := l.CurrentBalances()
	entries := len(l.Entries())

	bals, err := l.Apply(ctx, outcome("o3", "1", "1"))
	assert.ErrorIs(t, err, domain.ErrAlreadyApplied)
	assert.Equal(t, before, bals)
	assert.Len(t, l.Entries(), entries)
	assert.Len(t, l.TradeHistory(), 1)
}

func TestApplyRejectsReusedToken(t *testing.T) {
	l := funded(t)
	_, err := l.Apply(ctx, outcome("o4", "1", "1"))
	require.NoError(t, err)

	dup := outcome("o4", "1", "1")
	dup.ID = "o4-replay"
	_, err = l.Apply(ctx, dup)

	var lie *domain.LedgerIntegrityError
	require.True(t, errors.As(err, &lie))
	assert.ErrorIs(t, err, domain.ErrTokenReused)
	assert.Len(t, l.TradeHistory(), 1)
}

func TestApplyIsAllOrNothing(t *testing.T) {
	l := New(testLogger())
	require.NoError(t, l.Deposit(ctx, "A", "USDT", d("150")))
	require.NoError(t, l.Deposit(ctx, "B", "BTC", d("10")))
	before := l.CurrentBalances()

	// The sell leg is fine; the buy leg needs 200 USDT.
	_, err := l.Apply(ctx, outcome("o5", "2", "2"))

	var lie *domain.LedgerIntegrityError
	require.True(t, errors.As(err, &lie))
	assert.Equal(t, "o5", lie.OutcomeID)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	assert.Equal(t, before, l.CurrentBalances())
	assert.Len(t, l.Entries(), 2)
	assert.Empty(t, l.TradeHistory())
	assert.True(t, l.SnapshotExposure("BTC").IsZero())

	// Not marked applied: a retry is judged again.
	_, err = l.Apply(ctx, outcome("o5", "2", "2"))
	assert.False(t, errors.Is(err, domain.ErrAlreadyApplied))
}

func TestJournalFailureCommitsNothing(t *testing.T) {
	j := &memJournal{}
	l := funded(t, WithJournal(j))
	j.failing = true

	_, err := l.Apply(ctx, outcome("o6", "1", "1"))
	var lie *domain.LedgerIntegrityError
	require.True(t, errors.As(err, &lie))
	assert.Equal(t, "journal append failed", lie.Reason)

	assert.True(t, l.Balance("A", "BTC").IsZero())
	assert.Empty(t, l.TradeHistory())
}

func TestRestoreRebuildsState(t *testing.T) {
	j := &memJournal{}
	l := funded(t, WithJournal(j))
	_, err := l.Apply(ctx, outcome("o7", "1", "1"))
	require.NoError(t, err)
	_, err = l.Apply(ctx, outcome("o8", "2", "0"))
	require.NoError(t, err)

	r := New(testLogger(), WithJournal(j))
	n, err := r.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	assert.Equal(t, l.CurrentBalances(), r.CurrentBalances())
	assert.Equal(t, l.Positions(), r.Positions())
	assert.Len(t, r.TradeHistory(), 2)

	_, err = r.Apply(ctx, outcome("o7", "1", "1"))
	assert.ErrorIs(t, err, domain.ErrAlreadyApplied)

	_, err = r.Restore(ctx)
	assert.Error(t, err, "restore into a non-empty ledger")
}

func TestAbortedOutcomeChangesNothing(t *testing.T) {
	l := funded(t)
	out := outcome("o9", "0", "0")
	out.Kind = domain.OutcomeAborted

	_, err := l.Apply(ctx, out)
	require.NoError(t, err)
	assert.Empty(t, l.TradeHistory())
	assert.Len(t, l.Entries(), 2)

	v := l.View(time.Now(), time.Hour)
	assert.Empty(t, v.RecentExecutions)
}

func TestDepositValidation(t *testing.T) {
	l := New(testLogger())
	assert.Error(t, l.Deposit(ctx, "A", "USDT", decimal.Zero))
	assert.Error(t, l.Deposit(ctx, "A", "USDT", d("-1")))
	assert.Error(t, l.Deposit(ctx, "", "USDT", d("1")))
}

func TestViewFiltersExecutions(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := funded(t, WithClock(func() time.Time { return clock }))
	_, err := l.Apply(ctx, outcome("o10", "1", "1"))
	require.NoError(t, err)
	clock = clock.Add(2 * time.Hour)
	_, err = l.Apply(ctx, outcome("o11", "1", "1"))
	require.NoError(t, err)

	v := l.View(clock, time.Hour)
	assert.Len(t, v.RecentExecutions, 1)
	assert.True(t, v.Balance("A", "USDT").Equal(d("9800")))

	v.Balances[domain.BalanceKey{Venue: "A", Asset: "USDT"}] = decimal.Zero
	assert.True(t, l.Balance("A", "USDT").Equal(d("9800")), "views are copies")
}

func TestPositionAveraging(t *testing.T) {
	p := domain.Position{Asset: "BTC"}
	p = addToPosition(p, domain.SideBuy, d("1"), d("100"))
	p = addToPosition(p, domain.SideBuy, d("1"), d("110"))
	assert.True(t, p.AvgPrice.Equal(d("105")))

	p = addToPosition(p, domain.SideSell, d("1"), d("120"))
	assert.True(t, p.Quantity.Equal(d("1")))
	assert.True(t, p.AvgPrice.Equal(d("105")))

	p = addToPosition(p, domain.SideSell, d("3"), d("90"))
	assert.True(t, p.Quantity.Equal(d("-2")))
	assert.True(t, p.AvgPrice.Equal(d("90")))

	p = addToPosition(p, domain.SideBuy, d("2"), d("95"))
	assert.True(t, p.Quantity.IsZero())
	assert.True(t, p.AvgPrice.IsZero())
}

// Readers running alongside many concurrent applies must never observe a
// half-applied outcome. With zero fees and a buy at 100, A's USDT plus 100x
// its BTC is constant.
func TestConcurrentAppliesNeverInterleave(t *testing.T) {
	l := New(testLogger())
	require.NoError(t, l.Deposit(ctx, "A", "USDT", d("1000000")))
	require.NoError(t, l.Deposit(ctx, "B", "BTC", d("100")))

	const n = 50
	stop := make(chan struct{})
	var readers sync.WaitGroup
	var broken sync.Once
	var brokenAt string
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				v := l.View(time.Now(), 0)
				value := v.Balance("A", "USDT").Add(v.Balance("A", "BTC").Mul(d("100")))
				if !value.Equal(d("1000000")) {
					broken.Do(func() { brokenAt = value.String() })
				}
			}
		}()
	}

	var writers sync.WaitGroup
	for i := 0; i < n; i++ {
		writers.Add(1)
		go func() {
			defer writers.Done()
			_, err := l.Apply(ctx, outcome(fmt.Sprintf("c%d", i), "0.1", "0.1"))
			assert.NoError(t, err)
		}()
	}
	writers.Wait()
	close(stop)
	readers.Wait()

	assert.Empty(t, brokenAt, "reader saw a partial apply")
	assert.True(t, l.Balance("A", "USDT").Equal(d("999500")))
	assert.True(t, l.Balance("A", "BTC").Equal(d("5")))
	assert.True(t, l.Balance("B", "BTC").Equal(d("95")))
	assert.True(t, l.Balance("B", "USDT").Equal(d("505")))
	assert.Len(t, l.Entries(), 2+4*n)
	assert.Len(t, l.TradeHistory(), n)
	require.NoError(t, l.Verify())

	seqs := make(map[uint64]bool)
	for _, e := range l.Entries() {
		assert.False(t, seqs[e.Seq], "duplicate seq %d", e.Seq)
		seqs[e.Seq] = true
	}
}

func TestSummary(t *testing.T) {
	l := funded(t)
	_, err := l.Apply(ctx, outcome("s1", "1", "1"))
	require.NoError(t, err)
	_, err = l.Apply(ctx, outcome("s2", "1", "0"))
	require.NoError(t, err)

	s := l.Summary()
	assert.Equal(t, 2, s.Trades)
	assert.Equal(t, 1, s.Successful)
	assert.Equal(t, 1, s.Partial)
	assert.True(t, s.RealizedPnL.Equal(d("1")))
	assert.True(t, s.OpenExposure.Equal(d("100")))
	require.NotNil(t, s.LastTradeAt)
}
