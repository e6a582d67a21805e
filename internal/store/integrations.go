package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iammorganparry/hive-sync/internal/models"
)

// IntegrationStore persists per-category tracker settings and sealed tokens.
type IntegrationStore struct {
	db *DB
}

func NewIntegrationStore(db *DB) *IntegrationStore {
	return &IntegrationStore{db: db}
}

// Upsert inserts or replaces the integration for a category.
func (s *IntegrationStore) Upsert(ctx context.Context, in *models.Integration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO integrations (category_id, system, organization, project, owner, repo, sealed_token, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(category_id) DO UPDATE SET
			system = excluded.system,
			organization = excluded.organization,
			project = excluded.project,
			owner = excluded.owner,
			repo = excluded.repo,
			sealed_token = excluded.sealed_token,
			updated_at = excluded.updated_at
	`,
		in.CategoryID, string(in.System), in.Organization, in.Project, in.Owner, in.Repo,
		in.SealedToken, toMillis(in.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert integration: %w", err)
	}
	return nil
}

// Get returns the integration for a category, or nil, nil if none exists.
func (s *IntegrationStore) Get(ctx context.Context, categoryID string) (*models.Integration, error) {
	var in models.Integration
	var system string
	var org, project, owner, repo sql.NullString
	var updated int64

	err := s.db.QueryRowContext(ctx, `
		SELECT category_id, system, organization, project, owner, repo, sealed_token, updated_at
		FROM integrations WHERE category_id = ?`, categoryID,
	).Scan(&in.CategoryID, &system, &org, &project, &owner, &repo, &in.SealedToken, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get integration: %w", err)
	}

	in.System = models.System(system)
	in.Organization = org.String
	in.Project = project.String
	in.Owner = owner.String
	in.Repo = repo.String
	in.UpdatedAt = fromMillis(updated)
	return &in, nil
}

// List returns all integrations ordered by category.
func (s *IntegrationStore) List(ctx context.Context) ([]*models.Integration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category_id, system, organization, project, owner, repo, updated_at
		FROM integrations ORDER BY category_id`)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	defer rows.Close()

	var result []*models.Integration
	for rows.Next() {
		var in models.Integration
		var system string
		var org, project, owner, repo sql.NullString
		var updated int64
		if err := rows.Scan(&in.CategoryID, &system, &org, &project, &owner, &repo, &updated); err != nil {
			return nil, fmt.Errorf("scan integration: %w", err)
		}
		in.System = models.System(system)
		in.Organization = org.String
		in.Project = project.String
		in.Owner = owner.String
		in.Repo = repo.String
		in.UpdatedAt = fromMillis(updated)
		result = append(result, &in)
	}
	return result, rows.Err()
}
