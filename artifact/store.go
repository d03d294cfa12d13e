package artifact

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/fidex/internal/store"
	"github.com/hazyhaar/fidex/provenance"
)

// Store records one run's stages and artifacts in the run store. The run
// row must exist; the store handle stays owned by the caller.
type Store struct {
	db    *store.Store
	runID string
}

// NewStore returns a sink bound to runID.
func NewStore(db *store.Store, runID string) *Store {
	return &Store{db: db, runID: runID}
}

func (s *Store) WriteStage(ctx context.Context, d provenance.Delta) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("artifact: encode stage %s: %w", d.Stage, err)
	}
	return s.db.AppendStage(ctx, s.runID, &store.Stage{
		Stage:      d.Stage,
		Exceptions: len(d.Exceptions),
		Failed:     len(d.FailedFetches),
		Payload:    payload,
	})
}

func (s *Store) WriteArtifact(ctx context.Context, name string, v any) error {
	var body []byte
	if v != nil {
		var err error
		if body, err = json.Marshal(v); err != nil {
			return fmt.Errorf("artifact: encode %s: %w", name, err)
		}
	}
	return s.db.PutArtifact(ctx, s.runID, name, body)
}

func (s *Store) Close() error { return nil }
