package credentials

import (
	"context"
	"fmt"
	"strings"

	"github.com/iammorganparry/hive-sync/internal/models"
	"github.com/iammorganparry/hive-sync/internal/reconcile"
	"github.com/iammorganparry/hive-sync/internal/tracker"
)

// IntegrationGetter loads the integration record of a category.
type IntegrationGetter interface {
	Get(ctx context.Context, categoryID string) (*models.Integration, error)
}

// Resolver turns a category's stored integration into tracker credentials.
type Resolver struct {
	integrations IntegrationGetter
	box          *Box
}

func NewResolver(integrations IntegrationGetter, box *Box) *Resolver {
	return &Resolver{integrations: integrations, box: box}
}

// Lookup returns the credentials for item. Missing settings are reported
// as reconcile.ErrConfigIncomplete naming every absent field.
func (r *Resolver) Lookup(ctx context.Context, item *models.TrackedItem) (tracker.Credentials, error) {
	in, err := r.integrations.Get(ctx, item.CategoryID)
	if err != nil {
		return tracker.Credentials{}, err
	}
	if in == nil {
		return tracker.Credentials{}, fmt.Errorf("%w: category %q has no integration",
			reconcile.ErrConfigIncomplete, item.CategoryID)
	}
	if in.System != item.ExternalSystem {
		return tracker.Credentials{}, fmt.Errorf("%w: category %q is configured for %s, item uses %s",
			reconcile.ErrConfigIncomplete, item.CategoryID, in.System, item.ExternalSystem)
	}

	creds := tracker.Credentials{
		Organization: in.Organization,
		Project:      in.Project,
		Owner:        in.Owner,
		Repo:         in.Repo,
	}
	if len(in.SealedToken) > 0 {
		token, err := r.box.Open(in.SealedToken)
		if err != nil {
			return tracker.Credentials{}, fmt.Errorf("%w: category %q: %v",
				reconcile.ErrConfigIncomplete, item.CategoryID, err)
		}
		creds.Token = token
	}

	if missing := Missing(in.System, creds); len(missing) > 0 {
		return tracker.Credentials{}, fmt.Errorf("%w: category %q is missing %s",
			reconcile.ErrConfigIncomplete, item.CategoryID, strings.Join(missing, ", "))
	}
	return creds, nil
}

// Missing lists the settings system requires that creds lacks.
func Missing(system models.System, creds tracker.Credentials) []string {
	var missing []string
	if creds.Token == "" {
		missing = append(missing, "token")
	}
	switch system {
	case models.SystemAzureDevOps:
		if creds.Organization == "" {
			missing = append(missing, "organization")
		}
		if creds.Project == "" {
			missing = append(missing, "project")
		}
	case models.SystemGitHub:
		if creds.Owner == "" {
			missing = append(missing, "owner")
		}
		if creds.Repo == "" {
			missing = append(missing, "repo")
		}
	}
	return missing
}
