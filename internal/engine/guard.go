package engine

import (
	"context"
	"fmt"
	"log/slog"
)

// checkGuard returns why execution is blocked this cycle, or "". Transitions
// are logged and alerted once.
func (e *Engine) checkGuard(ctx context.Context) string {
	reason := e.guardReason()

	e.mu.Lock()
	prev := e.blocked
	e.blocked = reason
	e.mu.Unlock()

	switch {
	case reason != "" && reason != prev:
		e.logger.WarnContext(ctx, "trading blocked", slog.String("reason", reason))
		e.auditLog(ctx, "trading_blocked", map[string]any{"reason": reason})
		e.alert(ctx, "trading_blocked", "Trading blocked", reason)
	case reason == "" && prev != "":
		e.logger.InfoContext(ctx, "trading resumed", slog.String("previous", prev))
	}
	return reason
}

func (e *Engine) guardReason() string {
	if e.cfg.ScanOnly {
		return "scan_only"
	}
	e.mu.RLock()
	emergency := e.emergency
	e.mu.RUnlock()
	if emergency {
		return "emergency_stop"
	}

	if e.cfg.StopLossPct.IsPositive() && e.cfg.StartingCapital.IsPositive() {
		loss := e.ledger.Summary().RealizedPnL.Neg()
		limit := e.cfg.StartingCapital.Mul(e.cfg.StopLossPct)
		if loss.GreaterThanOrEqual(limit) {
			return fmt.Sprintf("stop_loss: realized loss %s reached %s", loss, limit)
		}
	}

	if floor := e.cfg.MinQuoteBalance; floor.IsPositive() {
		if bal := e.ledger.AssetTotal(e.cfg.QuoteAsset); bal.LessThan(floor) {
			return fmt.Sprintf("min_balance: %s %s below %s", e.cfg.QuoteAsset, bal, floor)
		}
	}
	return ""
}
