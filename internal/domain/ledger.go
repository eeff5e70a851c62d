package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceKey identifies a balance: one asset held on one venue.
type BalanceKey struct {
	Venue string `json:"venue"`
	Asset string `json:"asset"`
}

func (k BalanceKey) String() string { return k.Venue + ":" + k.Asset }

// EntryReason explains a ledger entry.
type EntryReason string

const (
	EntryDeposit EntryReason = "deposit"
	EntryFill    EntryReason = "fill"
	EntryFee     EntryReason = "fee"
)

// LedgerEntry is one immutable balance movement. The entries of a
// (venue, asset) pair always sum to its balance.
type LedgerEntry struct {
	Seq          uint64          `json:"seq"`
	TradeID      string          `json:"trade_id,omitempty"`
	OrderToken   string          `json:"order_token,omitempty"`
	Venue        string          `json:"venue"`
	Asset        string          `json:"asset"`
	Delta        decimal.Decimal `json:"delta"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Reason       EntryReason     `json:"reason"`
	At           time.Time       `json:"at"`
}

// Key returns the balance the entry moves.
func (e LedgerEntry) Key() BalanceKey { return BalanceKey{Venue: e.Venue, Asset: e.Asset} }

// Trade is the ledger's immutable record of an applied outcome.
type Trade struct {
	ID            string             `json:"id"`
	OutcomeID     string             `json:"outcome_id"`
	OpportunityID string             `json:"opportunity_id"`
	Pair          Pair               `json:"pair"`
	Kind          OutcomeKind        `json:"kind"`
	Fills         []Fill             `json:"fills"`
	Notional      decimal.Decimal    `json:"notional"`
	GrossPnL      decimal.Decimal    `json:"gross_pnl"`
	Fees          decimal.Decimal    `json:"fees"`
	RealizedPnL   decimal.Decimal    `json:"realized_pnl"`
	Unhedged      []UnhedgedPosition `json:"unhedged,omitempty"`
	RecordedAt    time.Time          `json:"recorded_at"`
}

// Clone deep-copies the slices of t.
func (t Trade) Clone() Trade {
	out := t
	out.Fills = append([]Fill(nil), t.Fills...)
	out.Unhedged = append([]UnhedgedPosition(nil), t.Unhedged...)
	return out
}

// Position is the net inventory of a base asset accumulated from fills across
// all venues. Deposits are not positions.
type Position struct {
	Asset    string          `json:"asset"`
	Quantity decimal.Decimal `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// Exposure is the absolute quote value of the position at its average price.
func (p Position) Exposure() decimal.Decimal {
	return p.Quantity.Abs().Mul(p.AvgPrice)
}

// ExposureView is the read-only slice of ledger state the risk engine
// evaluates against.
type ExposureView struct {
	AsOf             time.Time                      `json:"as_of"`
	Exposure         map[string]decimal.Decimal     `json:"exposure"`
	Balances         map[BalanceKey]decimal.Decimal `json:"-"`
	RecentExecutions []time.Time                    `json:"recent_executions"`
}

// ExposureOf returns the current exposure for asset.
func (v ExposureView) ExposureOf(asset string) decimal.Decimal {
	return v.Exposure[asset]
}

// Balance returns the balance of asset on venue.
func (v ExposureView) Balance(venue, asset string) decimal.Decimal {
	return v.Balances[BalanceKey{Venue: venue, Asset: asset}]
}

// LedgerBatch is everything one apply writes: the trade (nil for deposits),
// its entries, and the positions it touched. It is persisted atomically.
type LedgerBatch struct {
	OutcomeID string        `json:"outcome_id"`
	Trade     *Trade        `json:"trade,omitempty"`
	Entries   []LedgerEntry `json:"entries"`
	Positions []Position    `json:"positions,omitempty"`
}
