package artifact

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/fidex/provenance"
)

// Router fans out to every sink. A failing sink does not stop the others;
// failures are logged and the first one is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter returns a router over sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

func (r *Router) WriteStage(ctx context.Context, d provenance.Delta) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.WriteStage(ctx, d); err != nil {
			r.logger.Warn("artifact: write stage failed", "stage", d.Stage, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) WriteArtifact(ctx context.Context, name string, v any) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.WriteArtifact(ctx, name, v); err != nil {
			r.logger.Warn("artifact: write artifact failed", "name", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
