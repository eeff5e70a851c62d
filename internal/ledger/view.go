package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/britej3/Freq-trader/internal/domain"
)

// Summary aggregates the trade history.
type Summary struct {
	Trades        int             `json:"trades"`
	Successful    int             `json:"successful"`
	Partial       int             `json:"partial"`
	Volume        decimal.Decimal `json:"volume"`
	Fees          decimal.Decimal `json:"fees"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	OpenExposure  decimal.Decimal `json:"open_exposure"`
	LastTradeAt   *time.Time      `json:"last_trade_at,omitempty"`
	EntriesLogged int             `json:"entries_logged"`
}

// SnapshotExposure returns the current exposure in asset.
func (l *Ledger) SnapshotExposure(asset string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.positions[asset].Exposure()
}

// View returns the state the risk engine evaluates against. Executions older
// than lookback are omitted.
func (l *Ledger) View(now time.Time, lookback time.Duration) domain.ExposureView {
	l.mu.RLock()
	defer l.mu.RUnlock()

	v := domain.ExposureView{
		AsOf:     now,
		Exposure: make(map[string]decimal.Decimal, len(l.positions)),
		Balances: make(map[domain.BalanceKey]decimal.Decimal, len(l.balances)),
	}
	for a, p := range l.positions {
		v.Exposure[a] = p.Exposure()
	}
	for k, b := range l.balances {
		v.Balances[k] = b
	}
	for _, t := range l.executions {
		if lookback <= 0 || now.Sub(t) < lookback {
			v.RecentExecutions = append(v.RecentExecutions, t)
		}
	}
	return v
}

// CurrentBalances returns a copy of every balance.
func (l *Ledger) CurrentBalances() map[domain.BalanceKey]decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[domain.BalanceKey]decimal.Decimal, len(l.balances))
	for k, v := range l.balances {
		out[k] = v
	}
	return out
}

// Balance returns one balance.
func (l *Ledger) Balance(venue, asset string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[domain.BalanceKey{Venue: venue, Asset: asset}]
}

// AssetTotal sums asset across venues.
func (l *Ledger) AssetTotal(asset string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := decimal.Zero
	for k, v := range l.balances {
		if k.Asset == asset {
			total = total.Add(v)
		}
	}
	return total
}

// TradeHistory returns every recorded trade, oldest first.
func (l *Ledger) TradeHistory() []domain.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Trade, len(l.trades))
	for i, t := range l.trades {
		out[i] = t.Clone()
	}
	return out
}

// Entries returns the entry log, oldest first.
func (l *Ledger) Entries() []domain.LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.LedgerEntry(nil), l.entries...)
}

// Positions returns open positions sorted by asset.
func (l *Ledger) Positions() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		if !p.Quantity.IsZero() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// Summary aggregates trades and open exposure.
func (l *Ledger) Summary() Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Summary{Trades: len(l.trades), EntriesLogged: len(l.entries)}
	for _, t := range l.trades {
		switch t.Kind {
		case domain.OutcomeSuccess:
			s.Successful++
		case domain.OutcomePartialFailure:
			s.Partial++
		}
		s.Volume = s.Volume.Add(t.Notional)
		s.Fees = s.Fees.Add(t.Fees)
		s.RealizedPnL = s.RealizedPnL.Add(t.RealizedPnL)
	}
	for _, p := range l.positions {
		s.OpenExposure = s.OpenExposure.Add(p.Exposure())
	}
	if n := len(l.trades); n > 0 {
		at := l.trades[n-1].RecordedAt
		s.LastTradeAt = &at
	}
	return s
}

// Verify re-sums the entry log and compares it to every balance.
func (l *Ledger) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	sums := make(map[domain.BalanceKey]decimal.Decimal, len(l.balances))
	for _, e := range l.entries {
		sums[e.Key()] = sums[e.Key()].Add(e.Delta)
	}
	for k, bal := range l.balances {
		if !sums[k].Equal(bal) {
			return &domain.LedgerIntegrityError{Reason: fmt.Sprintf("balance %s is %s but entries sum to %s", k, bal, sums[k])}
		}
		if bal.IsNegative() {
			return &domain.LedgerIntegrityError{Reason: fmt.Sprintf("balance %s is negative: %s", k, bal)}
		}
	}
	for k, sum := range sums {
		if _, ok := l.balances[k]; !ok && !sum.IsZero() {
			return &domain.LedgerIntegrityError{Reason: fmt.Sprintf("entries for %s sum to %s with no balance", k, sum)}
		}
	}
	return nil
}
