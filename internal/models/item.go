package models

import "time"

// System identifies the external issue tracker an item is mirrored to.
type System string

const (
	SystemAzureDevOps System = "azure-devops"
	SystemGitHub      System = "github"
)

var ValidSystems = map[System]bool{
	SystemAzureDevOps: true,
	SystemGitHub:      true,
}

func (s System) IsValid() bool {
	return ValidSystems[s]
}

// SyncStatus is the coarse outcome of the last reconciliation of an item.
type SyncStatus string

const (
	SyncStatusSynced SyncStatus = "synced"
	SyncStatusError  SyncStatus = "error"
)

// ErrorKind classifies why an item is not synced. It is stored next to the
// free-text SyncError so callers can branch without parsing messages.
type ErrorKind string

const (
	ErrorKindNone             ErrorKind = ""
	ErrorKindNotFound         ErrorKind = "not_found"
	ErrorKindTransient        ErrorKind = "transient"
	ErrorKindConfigIncomplete ErrorKind = "config_incomplete"
	ErrorKindConflict         ErrorKind = "conflict"
)

// TrackedItem is a local feature request mirrored to an external tracker.
type TrackedItem struct {
	ID             string `json:"id"`
	CategoryID     string `json:"categoryId"`
	ExternalSystem System `json:"externalSystem"`
	ExternalID     string `json:"externalId"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	SyncEnabled    bool   `json:"syncEnabled"`

	LocalUpdatedAt    time.Time  `json:"localUpdatedAt"`
	ExternalUpdatedAt *time.Time `json:"externalUpdatedAt,omitempty"`
	LastSyncAt        *time.Time `json:"lastSyncAt,omitempty"`
	ExternalState     string     `json:"externalState,omitempty"`

	SyncStatus    SyncStatus `json:"syncStatus"`
	SyncConflict  bool       `json:"syncConflict"`
	SyncErrorKind ErrorKind  `json:"syncErrorKind,omitempty"`
	SyncError     string     `json:"syncError,omitempty"`

	// Content as of the last successful sync.
	SyncedTitle       string `json:"-"`
	SyncedDescription string `json:"-"`

	ErrorCount    int        `json:"errorCount"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// ExternalItem is the normalized view of a remote work item or issue. It is
// built fresh on every fetch and never persisted on its own.
type ExternalItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updatedAt"`
	State       string    `json:"state,omitempty"`
}

// PullUpdate overwrites local content with external content.
type PullUpdate struct {
	Title             string
	Description       string
	ExternalUpdatedAt time.Time
	ExternalState     string
	SyncedAt          time.Time
}

// ConflictUpdate flags an item as conflicted without touching its content.
type ConflictUpdate struct {
	ExternalUpdatedAt time.Time
	ExternalState     string
	Message           string
}

// FailureUpdate records a failed reconciliation attempt.
type FailureUpdate struct {
	Kind          ErrorKind
	Message       string
	NextAttemptAt *time.Time
}

// StableUpdate refreshes bookkeeping for an item that needs no pull: it
// clears a stale error and stores the latest external timestamp.
type StableUpdate struct {
	ExternalUpdatedAt time.Time
	ExternalState     string
}

// ResolveUpdate closes a conflict after local content was pushed outward.
type ResolveUpdate struct {
	ExternalUpdatedAt time.Time
	ExternalState     string
	SyncedAt          time.Time
}
