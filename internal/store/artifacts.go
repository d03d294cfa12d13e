package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PutArtifact stores body under name for run, replacing any earlier body.
func (s *Store) PutArtifact(ctx context.Context, runID, name string, body []byte) error {
	if body == nil {
		body = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (run_id, name, body, created_at) VALUES (?,?,?,?)
		ON CONFLICT(run_id, name) DO UPDATE SET body = excluded.body, created_at = excluded.created_at`,
		runID, name, body, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: put artifact %s: %w", name, err)
	}
	return nil
}

// Artifact returns the body stored under name, or nil if there is none.
func (s *Store) Artifact(ctx context.Context, runID, name string) ([]byte, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM artifacts WHERE run_id = ? AND name = ?`, runID, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return body, err
}

// ArtifactNames lists the artifacts of run in name order.
func (s *Store) ArtifactNames(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM artifacts WHERE run_id = ? ORDER BY name`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
