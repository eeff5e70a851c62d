package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/britej3/Freq-trader/internal/domain"
)

// HistoryHandler serves persisted cycle reports and the audit log. Either
// store may be nil when Postgres is disabled.
type HistoryHandler struct {
	cycles domain.CycleStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(cycles domain.CycleStore, audit domain.AuditStore, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{cycles: cycles, audit: audit, logger: logger.With(slog.String("handler", "history"))}
}

type cycleRow struct {
	ID            string          `json:"id"`
	Cycle         uint64          `json:"cycle"`
	StartedAt     string          `json:"started_at"`
	CompletedAt   string          `json:"completed_at"`
	Opportunities int             `json:"opportunities"`
	Executed      int             `json:"executed"`
	Failed        int             `json:"failed"`
	Blocked       string          `json:"blocked,omitempty"`
	Halted        bool            `json:"halted,omitempty"`
	Report        json.RawMessage `json:"report,omitempty"`
}

// ListCycles responds with stored cycle reports, newest first.
// GET /api/cycles?limit=&offset=&since=&until=&full=1
func (h *HistoryHandler) ListCycles(w http.ResponseWriter, r *http.Request) {
	if h.cycles == nil {
		writeError(w, http.StatusNotImplemented, "cycle history requires postgres")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := h.cycles.ListCycles(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list cycles failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list cycles")
		return
	}

	full := r.URL.Query().Get("full") == "1"
	rows := make([]cycleRow, len(recs))
	for i, rec := range recs {
		rows[i] = cycleRow{
			ID:            rec.ID,
			Cycle:         rec.Cycle,
			StartedAt:     rec.StartedAt.UTC().Format(timeLayout),
			CompletedAt:   rec.CompletedAt.UTC().Format(timeLayout),
			Opportunities: rec.Opportunities,
			Executed:      rec.Executed,
			Failed:        rec.Failed,
			Blocked:       rec.Blocked,
			Halted:        rec.Halted,
		}
		if full && len(rec.Report) > 0 {
			rows[i].Report = rec.Report
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycles": rows})
}

// ListAudit responds with audit log entries, newest first.
// GET /api/audit?limit=&offset=&since=&until=
func (h *HistoryHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotImplemented, "audit log requires postgres")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}

	rows := make([]map[string]any, len(entries))
	for i, e := range entries {
		rows[i] = map[string]any{
			"id":         e.ID,
			"event":      e.Event,
			"detail":     e.Detail,
			"created_at": e.CreatedAt.UTC().Format(timeLayout),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": rows})
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"
