package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/iammorganparry/hive-sync/internal/models"
)

var (
	// ErrItemNotFound is returned by updates that match no row.
	ErrItemNotFound = errors.New("tracked item not found")

	// ErrDuplicateItem is returned when the external item is already
	// tracked in the same category.
	ErrDuplicateItem = errors.New("external item already tracked in this category")
)

// itemColumns is the canonical column list for all SELECT queries.
// Order must match scanItem.
const itemColumns = `id, category_id, external_system, external_id, title, description,
	sync_enabled, local_updated_at, external_updated_at, last_sync_at, external_state,
	sync_status, sync_conflict, sync_error_kind, sync_error,
	synced_title, synced_description, error_count, next_attempt_at, created_at`

// ItemStore handles TrackedItem persistence. Every sync write is a single
// UPDATE so one item's fields change atomically.
type ItemStore struct {
	db *DB
}

func NewItemStore(db *DB) *ItemStore {
	return &ItemStore{db: db}
}

// Create stores a new tracked item. The caller sets ID and timestamps.
func (s *ItemStore) Create(ctx context.Context, it *models.TrackedItem) error {
	if it.SyncStatus == "" {
		it.SyncStatus = models.SyncStatusSynced
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracked_items (
			id, category_id, external_system, external_id, title, description,
			sync_enabled, local_updated_at, external_updated_at, last_sync_at, external_state,
			sync_status, sync_conflict, sync_error_kind, sync_error,
			synced_title, synced_description, error_count, next_attempt_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		it.ID, it.CategoryID, string(it.ExternalSystem), it.ExternalID, it.Title, it.Description,
		it.SyncEnabled, toMillis(it.LocalUpdatedAt), nullableMillis(it.ExternalUpdatedAt),
		nullableMillis(it.LastSyncAt), it.ExternalState,
		string(it.SyncStatus), it.SyncConflict, string(it.SyncErrorKind), it.SyncError,
		it.SyncedTitle, it.SyncedDescription, it.ErrorCount, nullableMillis(it.NextAttemptAt),
		toMillis(it.CreatedAt),
	)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrDuplicateItem
		}
		return fmt.Errorf("insert tracked item: %w", err)
	}
	return nil
}

// GetByID fetches a single item. Returns nil, nil when it does not exist.
func (s *ItemStore) GetByID(ctx context.Context, id string) (*models.TrackedItem, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM tracked_items WHERE id = ?`, itemColumns), id)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tracked item: %w", err)
	}
	return it, nil
}

// List returns items matching the filter, oldest first.
func (s *ItemStore) List(ctx context.Context, req *models.ListItemsRequest) ([]*models.TrackedItem, error) {
	var where []string
	var args []any

	if req.CategoryID != "" {
		where = append(where, "category_id = ?")
		args = append(args, req.CategoryID)
	}
	if req.Status != "" {
		where = append(where, "sync_status = ?")
		args = append(args, string(req.Status))
	}
	if req.ConflictOnly {
		where = append(where, "sync_conflict = 1")
	}

	query := fmt.Sprintf("SELECT %s FROM tracked_items", itemColumns)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if req.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, req.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tracked items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// ListSyncEnabled returns every item that takes part in reconciliation.
func (s *ItemStore) ListSyncEnabled(ctx context.Context) ([]*models.TrackedItem, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM tracked_items WHERE sync_enabled = 1 ORDER BY created_at ASC, id ASC`, itemColumns))
	if err != nil {
		return nil, fmt.Errorf("list sync-enabled items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// CountConflicts returns the number of items awaiting conflict resolution.
func (s *ItemStore) CountConflicts(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tracked_items WHERE sync_conflict = 1`).Scan(&n)
	return n, err
}

// UpdateLocal applies a local edit. Title or description changes advance
// local_updated_at so the next run sees the item as locally changed.
func (s *ItemStore) UpdateLocal(ctx context.Context, id string, req *models.UpdateItemRequest, now time.Time) (*models.TrackedItem, error) {
	var sets []string
	var args []any

	if req.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *req.Title)
	}
	if req.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *req.Description)
	}
	if req.Title != nil || req.Description != nil {
		sets = append(sets, "local_updated_at = ?")
		args = append(args, toMillis(now))
	}
	if req.SyncEnabled != nil {
		sets = append(sets, "sync_enabled = ?")
		args = append(args, *req.SyncEnabled)
	}
	if len(sets) == 0 {
		return s.GetByID(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE tracked_items SET %s WHERE id = ?", strings.Join(sets, ", "))
	if err := s.execOne(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("update tracked item: %w", err)
	}
	return s.GetByID(ctx, id)
}

// ApplyPull overwrites local content with external content and marks the
// item synced, clearing any error, conflict, and backoff state.
func (s *ItemStore) ApplyPull(ctx context.Context, id string, u models.PullUpdate) error {
	err := s.execOne(ctx, `
		UPDATE tracked_items SET
			title = ?, description = ?,
			synced_title = ?, synced_description = ?,
			external_updated_at = ?, external_state = ?, last_sync_at = ?,
			sync_status = ?, sync_conflict = 0, sync_error_kind = '', sync_error = '',
			error_count = 0, next_attempt_at = NULL
		WHERE id = ?`,
		u.Title, u.Description,
		u.Title, u.Description,
		toMillis(u.ExternalUpdatedAt), u.ExternalState, toMillis(u.SyncedAt),
		string(models.SyncStatusSynced),
		id,
	)
	if err != nil {
		return fmt.Errorf("apply pull: %w", err)
	}
	return nil
}

// MarkConflict flags the item as conflicted. Title and description are left
// alone; the external timestamp is stored so the same change is not
// re-detected on every run.
func (s *ItemStore) MarkConflict(ctx context.Context, id string, u models.ConflictUpdate) error {
	err := s.execOne(ctx, `
		UPDATE tracked_items SET
			sync_conflict = 1, sync_status = ?, sync_error_kind = ?, sync_error = ?,
			external_updated_at = ?, external_state = ?,
			error_count = 0, next_attempt_at = NULL
		WHERE id = ?`,
		string(models.SyncStatusError), string(models.ErrorKindConflict), u.Message,
		toMillis(u.ExternalUpdatedAt), u.ExternalState,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark conflict: %w", err)
	}
	return nil
}

// RecordFailure marks the item as errored and schedules the next attempt.
// A conflicted item keeps its conflict kind and message.
func (s *ItemStore) RecordFailure(ctx context.Context, id string, u models.FailureUpdate) error {
	err := s.execOne(ctx, `
		UPDATE tracked_items SET
			sync_status = ?,
			sync_error_kind = CASE WHEN sync_conflict = 1 THEN sync_error_kind ELSE ? END,
			sync_error = CASE WHEN sync_conflict = 1 THEN sync_error ELSE ? END,
			error_count = error_count + 1,
			next_attempt_at = ?
		WHERE id = ?`,
		string(models.SyncStatusError), string(u.Kind), u.Message,
		nullableMillis(u.NextAttemptAt),
		id,
	)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// MarkStable clears a stale error and refreshes the external timestamp for an
// item that needs no pull. Conflicted items keep their conflict state.
func (s *ItemStore) MarkStable(ctx context.Context, id string, u models.StableUpdate) error {
	err := s.execOne(ctx, `
		UPDATE tracked_items SET
			external_updated_at = ?, external_state = ?,
			sync_status = CASE WHEN sync_conflict = 1 THEN sync_status ELSE ? END,
			sync_error_kind = CASE WHEN sync_conflict = 1 THEN sync_error_kind ELSE '' END,
			sync_error = CASE WHEN sync_conflict = 1 THEN sync_error ELSE '' END,
			error_count = 0, next_attempt_at = NULL
		WHERE id = ?`,
		toMillis(u.ExternalUpdatedAt), u.ExternalState,
		string(models.SyncStatusSynced),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark stable: %w", err)
	}
	return nil
}

// ResolveKeepLocal closes a conflict after the local content was pushed to
// the external tracker. The snapshot becomes the current local content.
func (s *ItemStore) ResolveKeepLocal(ctx context.Context, id string, u models.ResolveUpdate) error {
	err := s.execOne(ctx, `
		UPDATE tracked_items SET
			synced_title = title, synced_description = description,
			external_updated_at = ?, external_state = ?, last_sync_at = ?,
			sync_status = ?, sync_conflict = 0, sync_error_kind = '', sync_error = '',
			error_count = 0, next_attempt_at = NULL
		WHERE id = ?`,
		toMillis(u.ExternalUpdatedAt), u.ExternalState, toMillis(u.SyncedAt),
		string(models.SyncStatusSynced),
		id,
	)
	if err != nil {
		return fmt.Errorf("resolve keep-local: %w", err)
	}
	return nil
}

func (s *ItemStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrItemNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*models.TrackedItem, error) {
	var it models.TrackedItem
	var system, status, kind string
	var localUpdated, created int64
	var externalUpdated, lastSync, nextAttempt sql.NullInt64

	err := row.Scan(
		&it.ID, &it.CategoryID, &system, &it.ExternalID, &it.Title, &it.Description,
		&it.SyncEnabled, &localUpdated, &externalUpdated, &lastSync, &it.ExternalState,
		&status, &it.SyncConflict, &kind, &it.SyncError,
		&it.SyncedTitle, &it.SyncedDescription, &it.ErrorCount, &nextAttempt, &created,
	)
	if err != nil {
		return nil, err
	}

	it.ExternalSystem = models.System(system)
	it.SyncStatus = models.SyncStatus(status)
	it.SyncErrorKind = models.ErrorKind(kind)
	it.LocalUpdatedAt = fromMillis(localUpdated)
	it.ExternalUpdatedAt = fromNullMillis(externalUpdated)
	it.LastSyncAt = fromNullMillis(lastSync)
	it.NextAttemptAt = fromNullMillis(nextAttempt)
	it.CreatedAt = fromMillis(created)
	return &it, nil
}

func scanItems(rows *sql.Rows) ([]*models.TrackedItem, error) {
	var result []*models.TrackedItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tracked item: %w", err)
		}
		result = append(result, it)
	}
	return result, rows.Err()
}
