// Package scanner finds cross-venue price discrepancies in a snapshot set and
// ranks them by profit net of fees and slippage. It holds no state and does
// no I/O.
package scanner

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/britej3/Freq-trader/internal/domain"
)

// Config tunes a Scanner.
type Config struct {
	// MinNetProfit is the quote amount an opportunity must exceed. Values
	// below zero are treated as zero.
	MinNetProfit decimal.Decimal
	// MaxFillSize caps the assumed fill size. Zero means uncapped.
	MaxFillSize decimal.Decimal
	// MaxSnapshotAge drops snapshots older than this relative to the set's
	// read time. Zero disables the check.
	MaxSnapshotAge time.Duration
	// TakerFees maps venue name to the taker fee rate (0.001 = 10 bps).
	TakerFees map[string]decimal.Decimal
	// DefaultTakerFee applies to venues missing from TakerFees.
	DefaultTakerFee decimal.Decimal
	Slippage        SlippageModel
}

// Scanner evaluates snapshot sets.
type Scanner struct {
	cfg Config
}

// New creates a Scanner. A nil slippage model means no slippage.
func New(cfg Config) *Scanner {
	if cfg.Slippage == nil {
		cfg.Slippage = NoSlippage{}
	}
	if cfg.MinNetProfit.IsNegative() {
		cfg.MinNetProfit = decimal.Zero
	}
	return &Scanner{cfg: cfg}
}

func (s *Scanner) feeRate(venue string) decimal.Decimal {
	if f, ok := s.cfg.TakerFees[venue]; ok {
		return f
	}
	return s.cfg.DefaultTakerFee
}

// Scan returns every profitable buy-here, sell-there combination in set,
// best first. Ties on net profit go to the deeper opportunity, then to venue
// names so the order is deterministic.
func (s *Scanner) Scan(set domain.SnapshotSet) []domain.Opportunity {
	byPair := make(map[domain.Pair][]domain.MarketSnapshot)
	for _, snap := range set.Snapshots {
		if !snap.Valid() {
			continue
		}
		if s.cfg.MaxSnapshotAge > 0 && !snap.Timestamp.IsZero() &&
			set.ReadAt.Sub(snap.Timestamp) > s.cfg.MaxSnapshotAge {
			continue
		}
		byPair[snap.Pair] = append(byPair[snap.Pair], snap)
	}

	var opps []domain.Opportunity
	for pair, snaps := range byPair {
		for _, buy := range snaps {
			for _, sell := range snaps {
				if buy.Venue == sell.Venue {
					continue
				}
				if opp, ok := s.evaluate(set, pair, buy, sell); ok {
					opps = append(opps, opp)
				}
			}
		}
	}

	sort.SliceStable(opps, func(i, j int) bool { return ranksBefore(opps[i], opps[j]) })
	return opps
}

// evaluate prices buying at buy's ask and selling at sell's bid.
func (s *Scanner) evaluate(set domain.SnapshotSet, pair domain.Pair, buy, sell domain.MarketSnapshot) (domain.Opportunity, bool) {
	gross := sell.BidPrice.Sub(buy.AskPrice)
	if !gross.IsPositive() {
		return domain.Opportunity{}, false
	}

	depth := decimal.Min(buy.AskSize, sell.BidSize)
	size := depth
	if s.cfg.MaxFillSize.IsPositive() && size.GreaterThan(s.cfg.MaxFillSize) {
		size = s.cfg.MaxFillSize
	}

	buyFee, sellFee := s.feeRate(buy.Venue), s.feeRate(sell.Venue)
	fees := size.Mul(buy.AskPrice).Mul(buyFee).Add(size.Mul(sell.BidPrice).Mul(sellFee))
	slip := s.cfg.Slippage.Cost(domain.SideBuy, buy.AskPrice, size, buy.AskSize).
		Add(s.cfg.Slippage.Cost(domain.SideSell, sell.BidPrice, size, sell.BidSize))
	net := size.Mul(gross).Sub(fees).Sub(slip)

	if !net.GreaterThan(s.cfg.MinNetProfit) {
		return domain.Opportunity{}, false
	}

	return domain.Opportunity{
		ID:         fmt.Sprintf("%d:%s:%s>%s", set.Generation, pair, buy.Venue, sell.Venue),
		Pair:       pair,
		Generation: set.Generation,
		Buy: domain.OpportunityLeg{
			Venue:    buy.Venue,
			Side:     domain.SideBuy,
			Price:    buy.AskPrice,
			Depth:    buy.AskSize,
			FeeRate:  buyFee,
			Sequence: buy.Sequence,
		},
		Sell: domain.OpportunityLeg{
			Venue:    sell.Venue,
			Side:     domain.SideSell,
			Price:    sell.BidPrice,
			Depth:    sell.BidSize,
			FeeRate:  sellFee,
			Sequence: sell.Sequence,
		},
		Size:         size,
		GrossSpread:  gross,
		FeeCost:      fees,
		SlippageCost: slip,
		NetProfit:    net,
		NetPerUnit:   net.Div(size),
		Depth:        depth,
		DetectedAt:   set.ReadAt,
	}, true
}

func ranksBefore(a, b domain.Opportunity) bool {
	if c := a.NetProfit.Cmp(b.NetProfit); c != 0 {
		return c > 0
	}
	if c := a.Depth.Cmp(b.Depth); c != 0 {
		return c > 0
	}
	if a.Buy.Venue != b.Buy.Venue {
		return a.Buy.Venue < b.Buy.Venue
	}
	if a.Sell.Venue != b.Sell.Venue {
		return a.Sell.Venue < b.Sell.Venue
	}
	return a.Pair.String() < b.Pair.String()
}
