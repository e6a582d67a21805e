package reconcile

import (
	"strings"

	"github.com/iammorganparry/hive-sync/internal/models"
)

// State is the classification of one item for the current run.
type State string

const (
	StateStable      State = "stable"
	StatePullPending State = "pull_pending"
	StateConflict    State = "conflict"
	StateError       State = "error"
)

// Decision is the result of Classify.
type Decision struct {
	State           State
	ExternalChanged bool
	LocalChanged    bool

	// Noise is set when the external timestamp moved but the content still
	// matches the last synced snapshot.
	Noise bool

	// Converged is set when both sides changed to the same content.
	Converged bool
}

// Classify compares a tracked item with its external counterpart. ext must
// already be converted to local Markdown.
func Classify(item *models.TrackedItem, ext *models.ExternalItem) Decision {
	d := Decision{
		ExternalChanged: item.ExternalUpdatedAt == nil || ext.UpdatedAt.After(*item.ExternalUpdatedAt),
		LocalChanged:    item.LastSyncAt == nil || item.LocalUpdatedAt.After(*item.LastSyncAt),
	}

	externalChanged := d.ExternalChanged
	if externalChanged && item.LastSyncAt != nil &&
		sameContent(ext, item.SyncedTitle, item.SyncedDescription) {
		d.Noise = true
		externalChanged = false
	}
	converged := sameContent(ext, item.Title, item.Description)

	switch {
	case item.SyncConflict:
		// Only Resolve clears a conflict, even when both sides now agree.
		switch {
		case converged:
			d.Converged = true
			d.State = StateStable
		case externalChanged:
			d.State = StateConflict
		default:
			d.State = StateStable
		}
	case externalChanged && d.LocalChanged:
		if converged {
			d.Converged = true
			d.State = StatePullPending
		} else {
			d.State = StateConflict
		}
	case externalChanged:
		d.State = StatePullPending
	default:
		d.State = StateStable
	}
	return d
}

func sameContent(ext *models.ExternalItem, title, description string) bool {
	return strings.TrimSpace(ext.Title) == strings.TrimSpace(title) &&
		strings.TrimSpace(ext.Description) == strings.TrimSpace(description)
}
