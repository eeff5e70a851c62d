package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stats are running counters for the bot since start.
type Stats struct {
	StartedAt         time.Time       `json:"started_at"`
	Cycles            uint64          `json:"cycles"`
	OpportunitiesSeen int             `json:"opportunities_seen"`
	Rejected          int             `json:"rejected"`
	TradesExecuted    int             `json:"trades_executed"`
	SuccessfulTrades  int             `json:"successful_trades"`
	PartialTrades     int             `json:"partial_trades"`
	AbortedTrades     int             `json:"aborted_trades"`
	WinRate           float64         `json:"win_rate"`
	RealizedPnL       decimal.Decimal `json:"realized_pnl"`
	Fees              decimal.Decimal `json:"fees"`
	PeakPnL           decimal.Decimal `json:"peak_pnl"`
	MaxDrawdown       decimal.Decimal `json:"max_drawdown"`
	ConsecutiveErrors int             `json:"consecutive_errors"`
	LastCycleAt       *time.Time      `json:"last_cycle_at,omitempty"`
	TradingBlocked    string          `json:"trading_blocked,omitempty"`
	Halted            bool            `json:"halted"`
	HaltReason        string          `json:"halt_reason,omitempty"`
}

// trackPnL updates realized PnL and the drawdown from its running peak.
func (s *Stats) trackPnL(realized, fees decimal.Decimal) {
	s.RealizedPnL = realized
	s.Fees = fees
	if realized.GreaterThan(s.PeakPnL) {
		s.PeakPnL = realized
	}
	if dd := s.PeakPnL.Sub(realized); dd.GreaterThan(s.MaxDrawdown) {
		s.MaxDrawdown = dd
	}
}

func (s *Stats) winRate() float64 {
	if s.TradesExecuted == 0 {
		return 0
	}
	return float64(s.SuccessfulTrades) / float64(s.TradesExecuted)
}
