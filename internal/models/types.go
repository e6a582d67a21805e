package models

import "time"

// Resolution is the operator's choice for settling a conflict.
type Resolution string

const (
	ResolutionKeepLocal    Resolution = "keep-local"
	ResolutionKeepExternal Resolution = "keep-external"
	ResolutionMerge        Resolution = "merge"
)

func (r Resolution) IsValid() bool {
	return r == ResolutionKeepLocal || r == ResolutionKeepExternal || r == ResolutionMerge
}

// RunStatus is the final state of a reconciliation run.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// Outcome is what happened to a single item during a run.
type Outcome string

const (
	OutcomeStable   Outcome = "stable"
	OutcomePulled   Outcome = "pulled"
	OutcomeConflict Outcome = "conflict"
	OutcomeNotFound Outcome = "not_found"
	OutcomeError    Outcome = "error"
	OutcomeSkipped  Outcome = "skipped"
)

// ItemOutcome reports the result for one item in a run.
type ItemOutcome struct {
	ItemID  string    `json:"itemId"`
	Outcome Outcome   `json:"outcome"`
	Kind    ErrorKind `json:"kind,omitempty"`
	Message string    `json:"message,omitempty"`
}

// RunReport summarizes one reconciliation run.
type RunReport struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Status     RunStatus     `json:"status"`
	Error      string        `json:"error,omitempty"`
	Total      int           `json:"total"`
	Stable     int           `json:"stable"`
	Pulled     int           `json:"pulled"`
	Conflicts  int           `json:"conflicts"`
	NotFound   int           `json:"notFound"`
	Errors     int           `json:"errors"`
	Skipped    int           `json:"skipped"`
	Items      []ItemOutcome `json:"items,omitempty"`
}

// Record tallies an item outcome into the report counters.
func (r *RunReport) Record(o ItemOutcome) {
	r.Items = append(r.Items, o)
	switch o.Outcome {
	case OutcomeStable:
		r.Stable++
	case OutcomePulled:
		r.Pulled++
	case OutcomeConflict:
		r.Conflicts++
	case OutcomeNotFound:
		r.NotFound++
	case OutcomeError:
		r.Errors++
	case OutcomeSkipped:
		r.Skipped++
	}
}

// Integration holds the external tracker settings for a category.
type Integration struct {
	CategoryID   string    `json:"categoryId"`
	System       System    `json:"system"`
	Organization string    `json:"organization,omitempty"`
	Project      string    `json:"project,omitempty"`
	Owner        string    `json:"owner,omitempty"`
	Repo         string    `json:"repo,omitempty"`
	SealedToken  []byte    `json:"-"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Permission names an action an API key may perform.
type Permission string

const (
	PermissionAll            Permission = "*"
	PermissionItemsRead      Permission = "items:read"
	PermissionItemsWrite     Permission = "items:write"
	PermissionSyncRun        Permission = "sync:run"
	PermissionConflictsWrite Permission = "conflicts:resolve"
)

var ValidPermissions = map[Permission]bool{
	PermissionAll:            true,
	PermissionItemsRead:      true,
	PermissionItemsWrite:     true,
	PermissionSyncRun:        true,
	PermissionConflictsWrite: true,
}

// APIKey is a stored admin API key. Only the hash of the key is persisted.
type APIKey struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	KeyHash     string       `json:"-"`
	Permissions []Permission `json:"permissions"`
	CreatedAt   time.Time    `json:"createdAt"`
	LastUsedAt  *time.Time   `json:"lastUsedAt,omitempty"`
}

// Allows reports whether the key grants p.
func (k *APIKey) Allows(p Permission) bool {
	for _, have := range k.Permissions {
		if have == PermissionAll || have == p {
			return true
		}
	}
	return false
}

// CreateItemRequest is the payload for POST /items.
type CreateItemRequest struct {
	CategoryID     string `json:"categoryId"`
	ExternalSystem System `json:"externalSystem"`
	ExternalID     string `json:"externalId"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	SyncEnabled    *bool  `json:"syncEnabled,omitempty"`
}

// UpdateItemRequest is the payload for PATCH /items/{id}. Title and
// description changes count as local edits.
type UpdateItemRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	SyncEnabled *bool   `json:"syncEnabled,omitempty"`
}

// ResolveRequest is the payload for POST /items/{id}/resolve.
type ResolveRequest struct {
	Resolution Resolution `json:"resolution"`
}

// ListItemsRequest filters GET /items.
type ListItemsRequest struct {
	CategoryID   string
	Status       SyncStatus
	ConflictOnly bool
	Limit        int
}

// ListItemsResponse is returned from GET /items.
type ListItemsResponse struct {
	Items []*TrackedItem `json:"items"`
	Total int            `json:"total"`
}

// ServiceCheck is the health of one dependency.
type ServiceCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status        string         `json:"status"`
	DB            ServiceCheck   `json:"db"`
	ItemCounts    map[string]int `json:"itemCounts,omitempty"`
	OpenConflicts int            `json:"openConflicts"`
	LastRun       *RunReport     `json:"lastRun,omitempty"`
}
