package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/iammorganparry/hive-sync/internal/models"
)

const runColumns = `id, started_at, finished_at, status, error,
	total, stable, pulled, conflicts, not_found, errors, skipped, items`

// RunStore keeps the reconciliation run history.
type RunStore struct {
	db *DB
}

func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// RecordRun stores a finished run report.
func (s *RunStore) RecordRun(ctx context.Context, r *models.RunReport) error {
	itemsJSON, err := json.Marshal(r.Items)
	if err != nil {
		return fmt.Errorf("marshal run items: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, toMillis(r.StartedAt), toMillis(r.FinishedAt), string(r.Status), r.Error,
		r.Total, r.Stable, r.Pulled, r.Conflicts, r.NotFound, r.Errors, r.Skipped,
		string(itemsJSON),
	)
	if err != nil {
		return fmt.Errorf("insert sync run: %w", err)
	}
	return nil
}

// List returns the most recent runs, newest first. Item outcomes are omitted.
func (s *RunStore) List(ctx context.Context, limit int) ([]*models.RunReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	var result []*models.RunReport
	for rows.Next() {
		r, err := scanRun(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Latest returns the most recent run with its item outcomes, or nil if no
// run has been recorded.
func (s *RunStore) Latest(ctx context.Context) (*models.RunReport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM sync_runs ORDER BY started_at DESC LIMIT 1`)
	r, err := scanRun(row, true)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest sync run: %w", err)
	}
	return r, nil
}

func scanRun(row rowScanner, withItems bool) (*models.RunReport, error) {
	var r models.RunReport
	var status string
	var started, finished int64
	var itemsJSON sql.NullString

	err := row.Scan(
		&r.ID, &started, &finished, &status, &r.Error,
		&r.Total, &r.Stable, &r.Pulled, &r.Conflicts, &r.NotFound, &r.Errors, &r.Skipped,
		&itemsJSON,
	)
	if err != nil {
		return nil, err
	}

	r.Status = models.RunStatus(status)
	r.StartedAt = fromMillis(started)
	r.FinishedAt = fromMillis(finished)
	if withItems && itemsJSON.Valid && itemsJSON.String != "" {
		_ = json.Unmarshal([]byte(itemsJSON.String), &r.Items)
	}
	return &r, nil
}
