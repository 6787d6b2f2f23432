package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"datascout/internal/domain"
)

// SQLiteCheckpointStore persists run checkpoints in SQLite. Each save is a
// new row; LoadLatest returns the most recent snapshot for a run, so a crash
// between saves loses at most the work since the last checkpoint.
type SQLiteCheckpointStore struct {
	db *sql.DB
}

// NewSQLiteCheckpointStore opens (or creates) a SQLite database at dbPath
// and runs the schema migration.
func NewSQLiteCheckpointStore(dbPath string) (*SQLiteCheckpointStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate checkpoint db: %w", err)
	}
	return &SQLiteCheckpointStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT NOT NULL,
			agent      TEXT NOT NULL,
			iteration  INTEGER NOT NULL,
			data       TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_run ON checkpoints (run_id, id);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteCheckpointStore) Close() error {
	return s.db.Close()
}

// Save appends a checkpoint snapshot.
func (s *SQLiteCheckpointStore) Save(_ context.Context, cp domain.CheckpointData) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	_, err = s.db.Exec(
		"INSERT INTO checkpoints (run_id, agent, iteration, data, created_at) VALUES (?, ?, ?, ?, ?)",
		cp.RunID, cp.Agent, cp.Iteration, string(data),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// LoadLatest returns the most recent checkpoint for a run.
func (s *SQLiteCheckpointStore) LoadLatest(_ context.Context, runID string) (*domain.CheckpointData, error) {
	row := s.db.QueryRow(
		"SELECT data FROM checkpoints WHERE run_id = ? ORDER BY id DESC LIMIT 1", runID,
	)
	var data string
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrCheckpointNotFound
		}
		return nil, err
	}
	var cp domain.CheckpointData
	if err := json.Unmarshal([]byte(data), &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// ListRuns returns known run IDs with their latest iteration, most recent
// first.
func (s *SQLiteCheckpointStore) ListRuns(_ context.Context) ([]RunSummary, error) {
	rows, err := s.db.Query(`
		SELECT run_id, agent, MAX(iteration), MAX(created_at)
		FROM checkpoints GROUP BY run_id ORDER BY MAX(id) DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var createdStr string
		if err := rows.Scan(&r.RunID, &r.Agent, &r.Iteration, &createdStr); err != nil {
			return nil, err
		}
		r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune removes all but the newest keep checkpoints per run.
func (s *SQLiteCheckpointStore) Prune(_ context.Context, runID string, keep int) error {
	if keep < 1 {
		keep = 1
	}
	_, err := s.db.Exec(`
		DELETE FROM checkpoints WHERE run_id = ? AND id NOT IN (
			SELECT id FROM checkpoints WHERE run_id = ? ORDER BY id DESC LIMIT ?
		)
	`, runID, runID, keep)
	return err
}

// RunSummary describes the persisted state of one run.
type RunSummary struct {
	RunID     string
	Agent     string
	Iteration int
	UpdatedAt time.Time
}
