package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection with initialization logic.
type DB struct {
	*sql.DB
}

// Open creates or opens the SQLite database at the given path, runs schema
// initialization, and configures WAL mode for concurrent reads.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS integrations (
  category_id TEXT PRIMARY KEY,
  system TEXT NOT NULL,
  organization TEXT,
  project TEXT,
  owner TEXT,
  repo TEXT,
  sealed_token BLOB,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tracked_items (
  id TEXT PRIMARY KEY,
  category_id TEXT NOT NULL,
  external_system TEXT NOT NULL,
  external_id TEXT NOT NULL,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  sync_enabled INTEGER NOT NULL DEFAULT 1,
  local_updated_at INTEGER NOT NULL,
  external_updated_at INTEGER,
  last_sync_at INTEGER,
  sync_status TEXT NOT NULL DEFAULT 'synced',
  sync_conflict INTEGER NOT NULL DEFAULT 0,
  sync_error_kind TEXT NOT NULL DEFAULT '',
  sync_error TEXT NOT NULL DEFAULT '',
  synced_title TEXT NOT NULL DEFAULT '',
  synced_description TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  UNIQUE(external_system, external_id, category_id)
);

CREATE INDEX IF NOT EXISTS idx_tracked_items_sync_enabled ON tracked_items(sync_enabled);
CREATE INDEX IF NOT EXISTS idx_tracked_items_conflict ON tracked_items(sync_conflict);
CREATE INDEX IF NOT EXISTS idx_tracked_items_category ON tracked_items(category_id);

CREATE TABLE IF NOT EXISTS sync_runs (
  id TEXT PRIMARY KEY,
  started_at INTEGER NOT NULL,
  finished_at INTEGER NOT NULL,
  status TEXT NOT NULL,
  error TEXT NOT NULL DEFAULT '',
  total INTEGER NOT NULL DEFAULT 0,
  stable INTEGER NOT NULL DEFAULT 0,
  pulled INTEGER NOT NULL DEFAULT 0,
  conflicts INTEGER NOT NULL DEFAULT 0,
  not_found INTEGER NOT NULL DEFAULT 0,
  errors INTEGER NOT NULL DEFAULT 0,
  skipped INTEGER NOT NULL DEFAULT 0,
  items TEXT
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema changes that were added after the
// initial schema. Each migration is idempotent so it is safe to call on every
// database open.
func runMigrations(db *sql.DB) error {
	// --- Migration v1: per-item backoff ---
	hasErrorCount, err := columnExists(db, "tracked_items", "error_count")
	if err != nil {
		return fmt.Errorf("check error_count column: %w", err)
	}
	if !hasErrorCount {
		migrations := []string{
			`ALTER TABLE tracked_items ADD COLUMN error_count INTEGER NOT NULL DEFAULT 0`,
			`ALTER TABLE tracked_items ADD COLUMN next_attempt_at INTEGER`,
		}
		for _, m := range migrations {
			if _, err := db.Exec(m); err != nil {
				return fmt.Errorf("run migration v1: %w", err)
			}
		}
	}

	// --- Migration v2: cached external workflow state ---
	hasState, err := columnExists(db, "tracked_items", "external_state")
	if err != nil {
		return fmt.Errorf("check external_state column: %w", err)
	}
	if !hasState {
		if _, err := db.Exec(`ALTER TABLE tracked_items ADD COLUMN external_state TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("run migration v2: %w", err)
		}
	}

	// --- Migration v3: API keys ---
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			key_hash TEXT NOT NULL UNIQUE,
			permissions TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			last_used_at INTEGER
		)
	`)
	if err != nil {
		return fmt.Errorf("create api_keys table: %w", err)
	}

	return nil
}

// ItemCounts returns the number of tracked items per sync status, plus a
// "conflict" bucket.
func (db *DB) ItemCounts() (map[string]int, error) {
	rows, err := db.Query(`
		SELECT CASE WHEN sync_conflict = 1 THEN 'conflict' ELSE sync_status END AS bucket, COUNT(*)
		FROM tracked_items GROUP BY bucket`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var bucket string
		var n int
		if err := rows.Scan(&bucket, &n); err != nil {
			return nil, err
		}
		counts[bucket] = n
	}
	return counts, rows.Err()
}

// columnExists checks if a column exists in a table. It properly closes the
// rows cursor before returning, avoiding deadlocks with MaxOpenConns(1).
func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(
		fmt.Sprintf("SELECT name FROM pragma_table_info('%s') WHERE name = ?", table),
		column,
	)
	if err != nil {
		return false, err
	}
	found := rows.Next()
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}
	return found, nil
}

// Timestamps are stored as unix milliseconds so values read back compare
// equal to the external timestamps they were written from.

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func nullableMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}
