package artifact

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/fidex/provenance"
)

// Lines streams stages and artifacts as JSON lines, one envelope each.
type Lines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewLines returns a Lines sink on w, or os.Stdout when w is nil.
func NewLines(w io.Writer) *Lines {
	if w == nil {
		w = os.Stdout
	}
	return &Lines{enc: json.NewEncoder(w)}
}

func (l *Lines) WriteStage(_ context.Context, d provenance.Delta) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enc.Encode(envelope{Type: "stage", Name: d.Stage, Data: d})
}

func (l *Lines) WriteArtifact(_ context.Context, name string, v any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enc.Encode(envelope{Type: "artifact", Name: name, Data: v})
}

func (l *Lines) Close() error { return nil }

type envelope struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Data any    `json:"data,omitempty"`
}
