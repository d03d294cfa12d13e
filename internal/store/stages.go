package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Stage is one stored stage delta. Payload is the delta's JSON encoding.
type Stage struct {
	Seq        int    `json:"seq"`
	Stage      string `json:"stage"`
	Exceptions int    `json:"exceptions"`
	Failed     int    `json:"failed_fetches"`
	Payload    []byte `json:"-"`
	CreatedAt  int64  `json:"created_at"`
}

// AppendStage stores the next stage delta of run. Sequence numbers are
// allocated inside the transaction so stages keep flush order.
func (s *Store) AppendStage(ctx context.Context, runID string, st *Stage) error {
	st.CreatedAt = time.Now().UnixMilli()
	return RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), -1) + 1 FROM stage_deltas WHERE run_id = ?`, runID,
		).Scan(&st.Seq); err != nil {
			return fmt.Errorf("store: next seq: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stage_deltas (run_id, seq, stage, exceptions, failed, payload, created_at)
			VALUES (?,?,?,?,?,?,?)`,
			runID, st.Seq, st.Stage, st.Exceptions, st.Failed, string(st.Payload), st.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("store: append stage: %w", err)
		}
		return nil
	})
}

// Stages returns every stage of run in flush order.
func (s *Store) Stages(ctx context.Context, runID string) ([]*Stage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, stage, exceptions, failed, payload, created_at
		FROM stage_deltas WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Stage
	for rows.Next() {
		st := &Stage{}
		var payload string
		if err := rows.Scan(&st.Seq, &st.Stage, &st.Exceptions, &st.Failed, &payload, &st.CreatedAt); err != nil {
			return nil, err
		}
		st.Payload = []byte(payload)
		out = append(out, st)
	}
	return out, rows.Err()
}
