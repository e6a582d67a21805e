package tracker

import (
	"context"
	"errors"

	"github.com/iammorganparry/hive-sync/internal/models"
)

var (
	// ErrInvalidExternalID is returned before any request when an external
	// id is not in the target system's native format.
	ErrInvalidExternalID = errors.New("invalid external id")

	// ErrIncompleteCredentials is returned before any request when the
	// token or the target project is missing.
	ErrIncompleteCredentials = errors.New("incomplete tracker credentials")
)

// Credentials identify and authorize access to one external project.
type Credentials struct {
	Token        string
	Organization string // Azure DevOps
	Project      string // Azure DevOps
	Owner        string // GitHub
	Repo         string // GitHub
}

// ItemUpdate is the content pushed to the external system. Description is
// already in the external format (see Client.ToExternal).
type ItemUpdate struct {
	Title       string
	Description string
}

// Client talks to one external issue tracker. Implementations are pure
// translators: the only side effect is the outbound HTTP call.
type Client interface {
	// System returns the tracker this client handles.
	System() models.System

	// FetchItem returns the normalized external item, or nil, nil when the
	// tracker reports it does not exist.
	FetchItem(ctx context.Context, externalID string, creds Credentials) (*models.ExternalItem, error)

	// UpdateItem pushes title and description and returns the item as
	// stored after the update.
	UpdateItem(ctx context.Context, externalID string, creds Credentials, upd ItemUpdate) (*models.ExternalItem, error)

	// ToLocal converts an external description to local Markdown.
	ToLocal(description string) string

	// ToExternal converts local Markdown to the external description format.
	ToExternal(markdown string) (string, error)

	// Ping checks that the tracker API is reachable.
	Ping(ctx context.Context) error
}
