package handler

import (
	"net/http"
	"slices"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/britej3/Freq-trader/internal/domain"
	"github.com/britej3/Freq-trader/internal/ledger"
)

// LedgerView is the read side of the ledger.
type LedgerView interface {
	CurrentBalances() map[domain.BalanceKey]decimal.Decimal
	Positions() []domain.Position
	TradeHistory() []domain.Trade
	Summary() ledger.Summary
}

// LedgerHandler serves balances, positions, and trade history.
type LedgerHandler struct {
	ledger LedgerView
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(l LedgerView) *LedgerHandler {
	return &LedgerHandler{ledger: l}
}

type balanceRow struct {
	Venue   string          `json:"venue"`
	Asset   string          `json:"asset"`
	Balance decimal.Decimal `json:"balance"`
}

// ListBalances responds with every venue balance, sorted by venue then asset.
// GET /api/balances
func (h *LedgerHandler) ListBalances(w http.ResponseWriter, r *http.Request) {
	bals := h.ledger.CurrentBalances()
	rows := make([]balanceRow, 0, len(bals))
	for k, v := range bals {
		rows = append(rows, balanceRow{Venue: k.Venue, Asset: k.Asset, Balance: v})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Venue != rows[j].Venue {
			return rows[i].Venue < rows[j].Venue
		}
		return rows[i].Asset < rows[j].Asset
	})
	writeJSON(w, http.StatusOK, map[string]any{"balances": rows})
}

// ListPositions responds with the open positions.
// GET /api/positions
func (h *LedgerHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"positions": h.ledger.Positions()})
}

// ListTrades responds with trade history, newest first.
// GET /api/trades?limit=&offset=
func (h *LedgerHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trades := h.ledger.TradeHistory()
	slices.Reverse(trades)
	writeJSON(w, http.StatusOK, map[string]any{
		"trades":  page(trades, opts),
		"total":   len(trades),
		"summary": h.ledger.Summary(),
	})
}
