package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	bucket TEXT NOT NULL,
	phase TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_run ON checkpoints(run_id, created_at);
`

// Entry is one successful checkpoint save. Several entries can share a bucket
// because saves within the same hour overwrite each other on disk.
type Entry struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Bucket    string    `json:"bucket"`
	Phase     string    `json:"phase"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal records every checkpoint save in a sqlite database.
type Journal struct {
	db *sql.DB
}

func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) Migrate(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (j *Journal) Record(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO checkpoints (run_id, bucket, phase, created_at) VALUES (?, ?, ?, ?)`,
		entry.RunID, entry.Bucket, entry.Phase, entry.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record checkpoint %s: %w", entry.Bucket, err)
	}
	return nil
}

// History returns the newest entries first. An empty runID matches every run;
// limit <= 0 means no limit.
func (j *Journal) History(ctx context.Context, runID string, limit int) ([]Entry, error) {
	query := `SELECT id, run_id, bucket, phase, created_at FROM checkpoints`
	args := []any{}
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query checkpoint history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e         Entry
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Bucket, &e.Phase, &createdAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint history: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint history: %w", err)
	}
	return entries, nil
}
