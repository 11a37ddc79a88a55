package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/anstrom/inventorama/internal/db"
	"github.com/anstrom/inventorama/internal/logging"
	"github.com/anstrom/inventorama/internal/targets"
)

// HistoryStore returns past records of one address.
type HistoryStore interface {
	History(ctx context.Context, address string, limit int) ([]db.StoredRecord, error)
}

// HistoryHandler serves stored record history.
type HistoryHandler struct {
	store  HistoryStore
	logger *logging.Logger
}

// NewHistoryHandler creates a history handler.
func NewHistoryHandler(store HistoryStore, logger *logging.Logger) *HistoryHandler {
	return &HistoryHandler{store: store, logger: logger.WithComponent("history-handler")}
}

// GetHistory handles GET /api/v1/hosts/{address}/history?limit=N.
func (h *HistoryHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if !targets.ValidAddress(address) {
		writeError(w, r, h.logger, http.StatusBadRequest, fmt.Errorf("invalid address %q", address))
		return
	}
	limit, err := getQueryParamInt(r, "limit", 0)
	if err != nil {
		writeError(w, r, h.logger, http.StatusBadRequest, err)
		return
	}

	records, err := h.store.History(r.Context(), address, limit)
	if err != nil {
		writeError(w, r, h.logger, statusForError(err), err)
		return
	}
	if records == nil {
		records = []db.StoredRecord{}
	}
	writeJSON(w, r, h.logger, http.StatusOK, map[string]interface{}{
		"address": address,
		"records": records,
	})
}
