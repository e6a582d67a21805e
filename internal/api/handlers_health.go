package api

import (
	"net/http"

	"github.com/iammorganparry/hive-sync/internal/models"
	"github.com/iammorganparry/hive-sync/internal/store"
)

type HealthHandler struct {
	db    *store.DB
	items *store.ItemStore
	runs  *store.RunStore
}

func NewHealthHandler(db *store.DB, items *store.ItemStore, runs *store.RunStore) *HealthHandler {
	return &HealthHandler{db: db, items: items, runs: runs}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{
		Status: "ok",
	}

	// Check DB
	counts, err := h.db.ItemCounts()
	if err != nil {
		resp.DB = models.ServiceCheck{Status: "error", Message: err.Error()}
		resp.Status = "degraded"
	} else {
		resp.DB = models.ServiceCheck{Status: "ok"}
		resp.ItemCounts = counts
	}

	if n, err := h.items.CountConflicts(r.Context()); err == nil {
		resp.OpenConflicts = n
	}

	if resp.Status == "ok" {
		last, err := h.runs.Latest(r.Context())
		if err == nil && last != nil {
			last.Items = nil
			resp.LastRun = last
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
