package handler

import (
	"net/http"

	"github.com/britej3/Freq-trader/internal/domain"
)

// SnapshotReader returns a consistent copy of every snapshot.
type SnapshotReader interface {
	ReadAll() domain.SnapshotSet
}

// MarketHandler serves the live top-of-book view.
type MarketHandler struct {
	store SnapshotReader
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(store SnapshotReader) *MarketHandler {
	return &MarketHandler{store: store}
}

// ListSnapshots responds with every snapshot and the store generation.
// GET /api/markets
func (h *MarketHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.ReadAll())
}
