package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/britej3/Freq-trader/internal/domain"
)

// CandidateResult is what happened to one ranked opportunity in a cycle.
type CandidateResult struct {
	OpportunityID string              `json:"opportunity_id"`
	Pair          string              `json:"pair"`
	BuyVenue      string              `json:"buy_venue"`
	SellVenue     string              `json:"sell_venue"`
	NetProfit     decimal.Decimal     `json:"net_profit"`
	Decision      domain.RejectReason `json:"decision"`
	Detail        string              `json:"detail,omitempty"`
	ApprovedSize  decimal.Decimal     `json:"approved_size"`
	OutcomeID     string              `json:"outcome_id,omitempty"`
	Outcome       domain.OutcomeKind  `json:"outcome,omitempty"`
	Error         string              `json:"error,omitempty"`
}

// CycleReport summarizes one scan/decide/execute cycle.
type CycleReport struct {
	ID            string                    `json:"id"`
	Cycle         uint64                    `json:"cycle"`
	Generation    uint64                    `json:"generation"`
	StartedAt     time.Time                 `json:"started_at"`
	CompletedAt   time.Time                 `json:"completed_at"`
	Snapshots     int                       `json:"snapshots"`
	Opportunities int                       `json:"opportunities"`
	Candidates    []CandidateResult         `json:"candidates,omitempty"`
	Executed      int                       `json:"executed"`
	Failed        int                       `json:"failed"`
	Unhedged      []domain.UnhedgedPosition `json:"unhedged,omitempty"`
	Blocked       string                    `json:"blocked,omitempty"`
	Halted        bool                      `json:"halted,omitempty"`
}

func (e *Engine) publishReport(ctx context.Context, rep CycleReport) {
	if e.bus == nil && e.cycles == nil {
		return
	}
	payload, err := json.Marshal(rep)
	if err != nil {
		return
	}
	if e.bus != nil {
		if err := e.bus.Publish(ctx, domain.ChannelCycles, payload); err != nil {
			e.logger.WarnContext(ctx, "publish cycle report failed", slog.String("error", err.Error()))
		}
	}
	if e.cycles != nil {
		rec := domain.CycleRecord{
			ID:            rep.ID,
			Cycle:         rep.Cycle,
			StartedAt:     rep.StartedAt,
			CompletedAt:   rep.CompletedAt,
			Opportunities: rep.Opportunities,
			Executed:      rep.Executed,
			Failed:        rep.Failed,
			Blocked:       rep.Blocked,
			Halted:        rep.Halted,
			Report:        payload,
		}
		if err := e.cycles.SaveCycle(ctx, rec); err != nil {
			e.logger.WarnContext(ctx, "save cycle report failed", slog.String("error", err.Error()))
		}
	}
}

func (e *Engine) publishOutcome(ctx context.Context, out domain.TradeOutcome) {
	if e.bus != nil {
		payload, err := json.Marshal(out)
		if err == nil {
			if err := e.bus.Publish(ctx, domain.ChannelOutcomes, payload); err != nil {
				e.logger.WarnContext(ctx, "publish outcome failed", slog.String("error", err.Error()))
			}
			if err := e.bus.StreamAppend(ctx, domain.StreamTrades, payload); err != nil {
				e.logger.WarnContext(ctx, "append trade stream failed", slog.String("error", err.Error()))
			}
		}
	}
	e.auditLog(ctx, "trade_executed", map[string]any{
		"outcome_id":     out.ID,
		"decision_id":    out.DecisionID,
		"opportunity_id": out.OpportunityID,
		"pair":           out.Pair.String(),
		"kind":           string(out.Kind),
		"unhedged":       len(out.Unhedged),
	})
}

func (e *Engine) reportPartial(ctx context.Context, out domain.TradeOutcome) {
	detail := map[string]any{"outcome_id": out.ID, "pair": out.Pair.String()}
	msg := fmt.Sprintf("Outcome %s on %s left %d unhedged position(s):", out.ID, out.Pair, len(out.Unhedged))
	for i, u := range out.Unhedged {
		msg += fmt.Sprintf("\n%s %s %s @ %s on %s", u.Side, u.Size, u.Pair.Base, u.Price, u.Venue)
		detail[fmt.Sprintf("unhedged_%d", i)] = fmt.Sprintf("%s:%s:%s:%s", u.Venue, u.Side, u.Size, u.Price)
	}
	e.auditLog(ctx, "partial_execution", detail)
	e.alert(ctx, "partial_execution", "Partial execution", msg)
}

func (e *Engine) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) alert(ctx context.Context, event, title, msg string) {
	if e.bus != nil {
		payload, _ := json.Marshal(map[string]string{"event": event, "title": title, "message": msg})
		if err := e.bus.Publish(ctx, domain.ChannelAlerts, payload); err != nil {
			e.logger.WarnContext(ctx, "publish alert failed", slog.String("error", err.Error()))
		}
	}
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, msg); err != nil {
		e.logger.WarnContext(ctx, "notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
