// Package journal keeps a local history of sync runs in an embedded
// SQLite database next to the cache.
//
// The journal is append-only bookkeeping: it never influences sync
// behavior, it only answers "what did past runs do" for the history
// command and the dashboard.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/ortler/ortler/internal/syncer"
)

// DB wraps the embedded database connection.
type DB struct {
	conn *sql.DB
	path string
}

// Entry is one recorded sync run.
type Entry struct {
	ID                  int64     `json:"id"`
	StartedAt           time.Time `json:"started_at"`
	FinishedAt          time.Time `json:"finished_at"`
	Mode                string    `json:"mode"`
	DryRun              bool      `json:"dry_run"`
	NewSubmissions      int       `json:"new_submissions"`
	ModifiedSubmissions int       `json:"modified_submissions"`
	ProfilesUpdated     int       `json:"profiles_updated"`
	ProfilesFailed      int       `json:"profiles_failed"`
	GroupsChanged       int       `json:"groups_changed"`
	AssignmentsCached   int       `json:"assignments_cached"`
	ReviewsCached       int       `json:"reviews_cached"`
	Watermark           int64     `json:"watermark"`
}

// Open creates the journal database at path, creating the parent
// directory and schema as needed. The caller must Close it.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := db.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	err := db.conn.Close()
	db.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	return nil
}

func (db *DB) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		mode TEXT NOT NULL,
		dry_run INTEGER NOT NULL DEFAULT 0,
		new_submissions INTEGER NOT NULL DEFAULT 0,
		modified_submissions INTEGER NOT NULL DEFAULT 0,
		profiles_updated INTEGER NOT NULL DEFAULT 0,
		profiles_failed INTEGER NOT NULL DEFAULT 0,
		groups_changed INTEGER NOT NULL DEFAULT 0,
		assignments_cached INTEGER NOT NULL DEFAULT 0,
		reviews_cached INTEGER NOT NULL DEFAULT 0,
		watermark INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);
	`
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return nil
}

// Record appends one sync report to the journal.
func (db *DB) Record(ctx context.Context, report *syncer.Report) error {
	query := `
	INSERT INTO sync_runs (
		started_at, finished_at, mode, dry_run,
		new_submissions, modified_submissions,
		profiles_updated, profiles_failed, groups_changed,
		assignments_cached, reviews_cached, watermark
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.conn.ExecContext(ctx, query,
		report.StartedAt.UTC().Format(time.RFC3339),
		report.FinishedAt.UTC().Format(time.RFC3339),
		string(report.Mode),
		boolToInt(report.DryRun),
		report.NewSubmissions,
		report.ModifiedSubmissions,
		report.ProfilesUpdated,
		report.ProfilesFailed,
		report.GroupsChanged,
		report.AssignmentsCached,
		report.ReviewsCached,
		report.Watermark,
	)
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}
	return nil
}

// List returns the most recent runs, newest first. A limit of 0 returns
// everything.
func (db *DB) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `
	SELECT id, started_at, finished_at, mode, dry_run,
	       new_submissions, modified_submissions,
	       profiles_updated, profiles_failed, groups_changed,
	       assignments_cached, reviews_cached, watermark
	FROM sync_runs
	ORDER BY id DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var started, finished string
		var dryRun int
		if err := rows.Scan(
			&e.ID, &started, &finished, &e.Mode, &dryRun,
			&e.NewSubmissions, &e.ModifiedSubmissions,
			&e.ProfilesUpdated, &e.ProfilesFailed, &e.GroupsChanged,
			&e.AssignmentsCached, &e.ReviewsCached, &e.Watermark,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, started); err == nil {
			e.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339, finished); err == nil {
			e.FinishedAt = t
		}
		e.DryRun = dryRun != 0
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync runs: %w", err)
	}
	return entries, nil
}

// Last returns the most recent run, or nil when the journal is empty.
func (db *DB) Last(ctx context.Context) (*Entry, error) {
	entries, err := db.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// Count returns the number of recorded runs.
func (db *DB) Count(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_runs").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sync runs: %w", err)
	}
	return count, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
