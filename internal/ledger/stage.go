package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/britej3/Freq-trader/internal/domain"
)

const priceScale = 16

// staged accumulates the effect of one apply on top of the committed state
// without touching it.
type staged struct {
	base      *Ledger
	seq       uint64
	balances  map[domain.BalanceKey]decimal.Decimal
	positions map[string]domain.Position
	entries   []domain.LedgerEntry
}

// stage starts a change set. Callers hold applyMu, so the committed maps
// cannot change underneath it.
func (l *Ledger) stage() *staged {
	return &staged{
		base:      l,
		seq:       l.seq,
		balances:  make(map[domain.BalanceKey]decimal.Decimal),
		positions: make(map[string]domain.Position),
	}
}

func (s *staged) balance(k domain.BalanceKey) decimal.Decimal {
	if v, ok := s.balances[k]; ok {
		return v
	}
	return s.base.balances[k]
}

func (s *staged) position(asset string) domain.Position {
	if p, ok := s.positions[asset]; ok {
		return p
	}
	if p, ok := s.base.positions[asset]; ok {
		return p
	}
	return domain.Position{Asset: asset}
}

func (s *staged) move(tradeID, token string, k domain.BalanceKey, delta decimal.Decimal, reason domain.EntryReason, at time.Time) {
	if delta.IsZero() {
		return
	}
	after := s.balance(k).Add(delta)
	s.balances[k] = after
	s.seq++
	s.entries = append(s.entries, domain.LedgerEntry{
		Seq:          s.seq,
		TradeID:      tradeID,
		OrderToken:   token,
		Venue:        k.Venue,
		Asset:        k.Asset,
		Delta:        delta,
		BalanceAfter: after,
		Reason:       reason,
		At:           at,
	})
}

// fill books a fill: base against quote on the fill's venue, then the fee.
func (s *staged) fill(tradeID string, f domain.Fill, at time.Time) {
	base := domain.BalanceKey{Venue: f.Venue, Asset: f.Pair.Base}
	quote := domain.BalanceKey{Venue: f.Venue, Asset: f.Pair.Quote}
	notional := f.Notional()

	if f.Size.IsPositive() {
		switch f.Side {
		case domain.SideBuy:
			s.move(tradeID, f.OrderToken, quote, notional.Neg(), domain.EntryFill, at)
			s.move(tradeID, f.OrderToken, base, f.Size, domain.EntryFill, at)
		case domain.SideSell:
			s.move(tradeID, f.OrderToken, base, f.Size.Neg(), domain.EntryFill, at)
			s.move(tradeID, f.OrderToken, quote, notional, domain.EntryFill, at)
		}
		s.positions[f.Pair.Base] = addToPosition(s.position(f.Pair.Base), f.Side, f.Size, f.Price)
	}
	if f.Fee.IsPositive() {
		s.move(tradeID, f.OrderToken, domain.BalanceKey{Venue: f.Venue, Asset: f.FeeAsset}, f.Fee.Neg(), domain.EntryFee, at)
	}
}

// negative returns the first staged balance below zero, in key order.
func (s *staged) negative() (domain.BalanceKey, decimal.Decimal, bool) {
	keys := make([]domain.BalanceKey, 0, len(s.balances))
	for k, v := range s.balances {
		if v.IsNegative() {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return domain.BalanceKey{}, decimal.Zero, false
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys[0], s.balances[keys[0]], true
}

func (s *staged) batch(outcomeID string, trade *domain.Trade) domain.LedgerBatch {
	b := domain.LedgerBatch{OutcomeID: outcomeID, Trade: trade, Entries: s.entries}
	for _, p := range s.positions {
		b.Positions = append(b.Positions, p)
	}
	sort.Slice(b.Positions, func(i, j int) bool { return b.Positions[i].Asset < b.Positions[j].Asset })
	return b
}

// addToPosition folds a fill into a net position. Growing a position moves
// the average; shrinking keeps it; crossing zero restarts it at the fill
// price.
func addToPosition(p domain.Position, side domain.Side, size, price decimal.Decimal) domain.Position {
	signed := size
	if side == domain.SideSell {
		signed = size.Neg()
	}
	q := p.Quantity
	nq := q.Add(signed)

	switch {
	case nq.IsZero():
		p.AvgPrice = decimal.Zero
	case q.IsZero() || q.Sign() == signed.Sign():
		cost := q.Abs().Mul(p.AvgPrice).Add(size.Mul(price))
		p.AvgPrice = cost.DivRound(nq.Abs(), priceScale)
	case nq.Sign() != q.Sign():
		p.AvgPrice = price
	}
	p.Quantity = nq
	return p
}

// buildTrade derives notional and PnL from the fills. Only the quantity
// bought and sold within the trade is realized; any remainder is unhedged
// inventory and stays in the position.
func buildTrade(id string, out domain.TradeOutcome, fills []domain.Fill, at time.Time) domain.Trade {
	var buyQty, buyNotional, sellQty, sellNotional, fees decimal.Decimal
	for _, f := range fills {
		switch f.Side {
		case domain.SideBuy:
			buyQty = buyQty.Add(f.Size)
			buyNotional = buyNotional.Add(f.Notional())
		case domain.SideSell:
			sellQty = sellQty.Add(f.Size)
			sellNotional = sellNotional.Add(f.Notional())
		}
		fees = fees.Add(f.FeeInQuote())
	}

	gross := decimal.Zero
	if matched := decimal.Min(buyQty, sellQty); matched.IsPositive() {
		buyAvg := buyNotional.DivRound(buyQty, priceScale)
		sellAvg := sellNotional.DivRound(sellQty, priceScale)
		gross = matched.Mul(sellAvg.Sub(buyAvg))
	}

	return domain.Trade{
		ID:            id,
		OutcomeID:     out.ID,
		OpportunityID: out.OpportunityID,
		Pair:          out.Pair,
		Kind:          out.Kind,
		Fills:         fills,
		Notional:      decimal.Max(buyNotional, sellNotional),
		GrossPnL:      gross,
		Fees:          fees,
		RealizedPnL:   gross.Sub(fees),
		Unhedged:      out.Unhedged,
		RecordedAt:    at,
	}
}
