package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/britej3/Freq-trader/internal/engine"
)

// EngineView is the part of the engine the API reads and controls.
type EngineView interface {
	Stats() engine.Stats
	LastReport() (engine.CycleReport, bool)
	SetEmergencyStop(on bool)
}

// StatusHandler serves the engine status, the last cycle report, and the
// emergency stop switch.
type StatusHandler struct {
	mode   string
	engine EngineView
	logger *slog.Logger
}

// NewStatusHandler creates a StatusHandler for the given run mode.
func NewStatusHandler(mode string, eng EngineView, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{mode: mode, engine: eng, logger: logger.With(slog.String("handler", "status"))}
}

// GetStatus responds with the run mode and engine statistics.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":  h.mode,
		"stats": h.engine.Stats(),
	})
}

// LastCycle responds with the most recent cycle report.
// GET /api/cycles/last
func (h *StatusHandler) LastCycle(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.engine.LastReport()
	if !ok {
		writeError(w, http.StatusNotFound, "no cycle has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type emergencyStopRequest struct {
	Enabled *bool `json:"enabled"`
}

// EmergencyStop toggles the engine's emergency stop. Scanning continues while
// it is on; execution does not.
// POST /api/emergency-stop
func (h *StatusHandler) EmergencyStop(w http.ResponseWriter, r *http.Request) {
	var req emergencyStopRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, `body must be {"enabled": true|false}`)
		return
	}
	h.engine.SetEmergencyStop(*req.Enabled)
	h.logger.WarnContext(r.Context(), "emergency stop changed via api",
		slog.Bool("enabled", *req.Enabled),
		slog.String("remote_addr", r.RemoteAddr),
	)
	writeJSON(w, http.StatusOK, map[string]bool{"emergency_stop": *req.Enabled})
}
