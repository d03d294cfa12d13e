// Package artifact delivers stage deltas and end-of-run artifacts to one or
// more output backends.
package artifact

import (
	"context"

	"github.com/hazyhaar/fidex/provenance"
)

// Artifact file names.
const (
	Events           = "events.json"
	Faults           = "exception_failfetch.json"
	RequestStacks    = "requestStacks.json"
	WriteStacks      = "writeStacks.json"
	Fetches          = "fetches.json"
	TextualResources = "textualResources.json"
	Violations       = "invariant_violations.json"
	// Done is written last, empty, once every other artifact is in place.
	Done = "_done"
)

// Sink is an output backend. WriteStage is called once per flushed stage, in
// stage order. WriteArtifact with a nil value writes an empty artifact.
type Sink interface {
	WriteStage(ctx context.Context, d provenance.Delta) error
	WriteArtifact(ctx context.Context, name string, v any) error
	Close() error
}
