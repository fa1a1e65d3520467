package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mmdump/internal/journal/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteJournal implements Journal on a SQLite database.
type SQLiteJournal struct {
	db   *sql.DB
	path string
}

var _ Journal = (*SQLiteJournal)(nil)

// NewSQLiteJournal opens (or creates) the journal database at path and
// migrates it to the latest schema. path may be ":memory:".
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteJournal{db: db, path: path}, nil
}

// OpenConnection opens a SQLite connection with the PRAGMAs the journal
// relies on. Exported for tests and tooling.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	// Foreign keys are off by default in SQLite; channel_runs rows
	// cascade from runs.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

func (j *SQLiteJournal) BeginRun(ctx context.Context, run Run) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, server_url, started_at, status) VALUES (?, ?, ?, ?)`,
		run.Id, run.ServerURL, run.StartedAt.UnixMilli(), StatusRunning)
	if err != nil {
		return fmt.Errorf("recording run start: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) RecordChannel(ctx context.Context, rec ChannelRecord) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO channel_runs
		 (run_id, archive_name, channel_id, action, stop_reason, reason, posts_written, posts_skipped, post_count, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunId, rec.ArchiveName, rec.ChannelId, rec.Action, rec.StopReason, rec.Reason,
		rec.Written, rec.Skipped, rec.PostCount, rec.Error)
	if err != nil {
		return fmt.Errorf("recording channel outcome: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) FinishRun(ctx context.Context, id, status string, finishedAt time.Time) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		status, finishedAt.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, server_url, started_at, finished_at, status
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&r.Id, &r.ServerURL, &started, &finished, &r.Status); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		if finished.Valid {
			r.FinishedAt = time.UnixMilli(finished.Int64).UTC()
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (j *SQLiteJournal) Channels(ctx context.Context, runID string) ([]ChannelRecord, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT run_id, archive_name, channel_id, action, stop_reason, reason,
		        posts_written, posts_skipped, post_count, error
		 FROM channel_runs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing channel records: %w", err)
	}
	defer rows.Close()

	var recs []ChannelRecord
	for rows.Next() {
		var rec ChannelRecord
		if err := rows.Scan(&rec.RunId, &rec.ArchiveName, &rec.ChannelId, &rec.Action,
			&rec.StopReason, &rec.Reason, &rec.Written, &rec.Skipped, &rec.PostCount, &rec.Error); err != nil {
			return nil, fmt.Errorf("scanning channel row: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// NewJournalFromConfig creates a Journal implementation based on the
// journal config type.
func NewJournalFromConfig(journalType, dataDir string) (Journal, error) {
	switch journalType {
	case "sqlite", "":
		if dataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite journal")
		}
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
		return NewSQLiteJournal(filepath.Join(dataDir, "mmdump.db"))
	case "memory":
		return NewSQLiteJournal(":memory:")
	case "none":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown journal type: %s", journalType)
	}
}
