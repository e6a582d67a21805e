package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/iammorganparry/hive-sync/internal/models"
	"github.com/iammorganparry/hive-sync/internal/scheduler"
	"github.com/iammorganparry/hive-sync/internal/store"
)

type SyncHandler struct {
	runner *scheduler.Runner
	runs   *store.RunStore
}

func NewSyncHandler(runner *scheduler.Runner, runs *store.RunStore) *SyncHandler {
	return &SyncHandler{runner: runner, runs: runs}
}

// Run handles POST /sync/run. The run outlives the request.
func (h *SyncHandler) Run(w http.ResponseWriter, r *http.Request) {
	report, err := h.runner.RunOnce(context.WithoutCancel(r.Context()))
	if errors.Is(err, scheduler.ErrRunInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		if report == nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusInternalServerError, report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Runs handles GET /sync/runs
func (h *SyncHandler) Runs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	runs, err := h.runs.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*models.RunReport{}
	}
	writeJSON(w, http.StatusOK, runs)
}
