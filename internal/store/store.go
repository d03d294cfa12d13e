// Package store persists runs, their stage deltas and their final artifacts
// in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Store is the run database handle.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the run store at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := openDB(path, append([]Option{WithMkdirAll()}, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Run is one measured page load.
type Run struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Mode       string `json:"mode"`
	Dir        string `json:"dir,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Candidates int    `json:"candidates"`
	Triggered  int    `json:"triggered"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt *int64 `json:"finished_at,omitempty"`
}

// CreateRun inserts r with status running.
func (s *Store) CreateRun(ctx context.Context, r *Run) error {
	if r.StartedAt == 0 {
		r.StartedAt = time.Now().UnixMilli()
	}
	if r.Mode == "" {
		r.Mode = "live"
	}
	r.Status = StatusRunning
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, url, mode, dir, status, started_at)
		VALUES (?,?,?,?,?,?)`,
		r.ID, r.URL, r.Mode, r.Dir, r.Status, r.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create run: %w", err)
	}
	return nil
}

// SetCounts records how many candidates were found and triggered.
func (s *Store) SetCounts(ctx context.Context, id string, candidates, triggered int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET candidates = ?, triggered = ? WHERE id = ?`,
		candidates, triggered, id)
	return err
}

// FinishRun marks the run done, or failed when cause is non-nil.
func (s *Store) FinishRun(ctx context.Context, id string, cause error) error {
	status, msg := StatusDone, ""
	if cause != nil {
		status, msg = StatusFailed, cause.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, msg, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("store: finish run: %w", err)
	}
	return nil
}

const runColumns = `id, url, mode, dir, status, error, candidates, triggered, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	r := &Run{}
	var finished sql.NullInt64
	err := sc.Scan(&r.ID, &r.URL, &r.Mode, &r.Dir, &r.Status, &r.Error,
		&r.Candidates, &r.Triggered, &r.StartedAt, &finished)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		r.FinishedAt = &finished.Int64
	}
	return r, nil
}

// GetRun returns the run with id, or nil if there is none.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// ListRuns returns the most recent runs first. limit <= 0 means 50.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
