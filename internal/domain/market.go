package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Pair is a trading pair such as BTC/USDT.
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// ParsePair parses "BASE/QUOTE" (a dash or underscore separator is also
// accepted). Symbols are upper-cased.
func ParsePair(s string) (Pair, error) {
	sep := strings.IndexAny(s, "/-_")
	if sep <= 0 || sep == len(s)-1 {
		return Pair{}, fmt.Errorf("domain: invalid pair %q", s)
	}
	return Pair{
		Base:  strings.ToUpper(strings.TrimSpace(s[:sep])),
		Quote: strings.ToUpper(strings.TrimSpace(s[sep+1:])),
	}, nil
}

// MustPair is ParsePair for literals; it panics on malformed input.
func MustPair(s string) Pair {
	p, err := ParsePair(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pair) String() string { return p.Base + "/" + p.Quote }

// Symbol is the concatenated exchange symbol, e.g. BTCUSDT.
func (p Pair) Symbol() string { return p.Base + p.Quote }

// MarketSnapshot is the top of book for one pair on one venue. Snapshots are
// replaced wholesale, never merged.
type MarketSnapshot struct {
	Venue     string          `json:"venue"`
	Pair      Pair            `json:"pair"`
	BidPrice  decimal.Decimal `json:"bid_price"`
	BidSize   decimal.Decimal `json:"bid_size"`
	AskPrice  decimal.Decimal `json:"ask_price"`
	AskSize   decimal.Decimal `json:"ask_size"`
	Sequence  uint64          `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
}

// Valid reports whether both sides carry positive prices and sizes.
func (s MarketSnapshot) Valid() bool {
	return s.BidPrice.IsPositive() && s.AskPrice.IsPositive() &&
		s.BidSize.IsPositive() && s.AskSize.IsPositive()
}

// SnapshotKey identifies a snapshot slot in the store.
type SnapshotKey struct {
	Venue string
	Pair  Pair
}

// SnapshotSet is a point-in-time copy of every snapshot in the store.
// Generation increases with every applied update, so two reads with the same
// generation saw identical data.
type SnapshotSet struct {
	Generation uint64           `json:"generation"`
	ReadAt     time.Time        `json:"read_at"`
	Snapshots  []MarketSnapshot `json:"snapshots"`
}
