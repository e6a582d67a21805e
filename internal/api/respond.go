package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/iammorganparry/hive-sync/internal/models"
	"github.com/iammorganparry/hive-sync/internal/reconcile"
	"github.com/iammorganparry/hive-sync/internal/store"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string           `json:"error"`
	Kind  models.ErrorKind `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeSyncError maps reconciliation and store errors to HTTP statuses.
func writeSyncError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reconcile.ErrItemNotFound), errors.Is(err, store.ErrItemNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, reconcile.ErrNotInConflict), errors.Is(err, store.ErrDuplicateItem):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, reconcile.ErrMergeNotImplemented):
		writeError(w, http.StatusNotImplemented, err.Error())
		return
	case errors.Is(err, reconcile.ErrInvalidResolution):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var se *reconcile.SyncError
	if errors.As(err, &se) {
		status := http.StatusBadGateway
		if se.Kind == models.ErrorKindConfigIncomplete {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, errorResponse{Error: se.Err.Error(), Kind: se.Kind})
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
