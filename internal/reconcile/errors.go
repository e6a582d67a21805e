package reconcile

import (
	"errors"
	"fmt"

	"github.com/iammorganparry/hive-sync/internal/models"
	"github.com/iammorganparry/hive-sync/internal/tracker"
)

var (
	ErrItemNotFound        = errors.New("tracked item not found")
	ErrNotInConflict       = errors.New("item is not in conflict")
	ErrMergeNotImplemented = errors.New("merge resolution is not implemented: edit the item and resolve with keep-local")
	ErrInvalidResolution   = errors.New("invalid resolution")

	// ErrConfigIncomplete means the item's category lacks credentials or
	// project settings. It is raised before any external call.
	ErrConfigIncomplete = errors.New("integration configuration incomplete")

	// ErrExternalNotFound means the external tracker no longer has the item.
	ErrExternalNotFound = errors.New("external item not found")
)

// SyncError is a per-item failure tagged with its kind.
type SyncError struct {
	Kind   models.ErrorKind
	ItemID string
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: item %s: %v", e.Kind, e.ItemID, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// KindOf classifies err. Errors that carry no explicit kind are transient.
func KindOf(err error) models.ErrorKind {
	if err == nil {
		return models.ErrorKindNone
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, ErrConfigIncomplete),
		errors.Is(err, tracker.ErrInvalidExternalID),
		errors.Is(err, tracker.ErrIncompleteCredentials):
		return models.ErrorKindConfigIncomplete
	case errors.Is(err, ErrExternalNotFound):
		return models.ErrorKindNotFound
	}
	return models.ErrorKindTransient
}

func newSyncError(itemID string, err error) *SyncError {
	var se *SyncError
	if errors.As(err, &se) {
		return se
	}
	return &SyncError{Kind: KindOf(err), ItemID: itemID, Err: err}
}
