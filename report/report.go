// Package report exposes stored runs over HTTP and MCP: run listings, the
// stage deltas of a run, raw artifacts and a sanitised preview of captured
// textual resources.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/fidex/artifact"
	"github.com/hazyhaar/fidex/idgen"
	"github.com/hazyhaar/fidex/internal/store"
	"github.com/hazyhaar/fidex/provenance"
)

var (
	// ErrNotFound is returned for unknown runs, artifacts and resources.
	ErrNotFound = errors.New("report: not found")
	// ErrInvalid is returned for malformed requests.
	ErrInvalid = errors.New("report: invalid request")
)

// Service reads runs from the run store.
type Service struct {
	store  *store.Store
	policy *bluemonday.Policy
	log    *slog.Logger
}

// New returns a Service over st.
func New(st *store.Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: st, policy: bluemonday.UGCPolicy(), log: log}
}

// RunView is a run with the names of its stored artifacts.
type RunView struct {
	*store.Run
	Artifacts []string `json:"artifacts"`
}

// StageView is a stored stage with its full delta.
type StageView struct {
	*store.Stage
	Delta json.RawMessage `json:"delta"`
}

// Preview is one captured textual resource. HTML bodies are sanitised.
type Preview struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Body        string `json:"body"`
}

// ListRuns returns the most recent runs first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]*store.Run, error) {
	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	return runs, nil
}

// Run returns one run.
func (s *Service) Run(ctx context.Context, id string) (*RunView, error) {
	r, err := s.run(ctx, id)
	if err != nil {
		return nil, err
	}
	names, err := s.store.ArtifactNames(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return &RunView{Run: r, Artifacts: names}, nil
}

// Stages returns the stage deltas of a run in flush order.
func (s *Service) Stages(ctx context.Context, id string) ([]StageView, error) {
	r, err := s.run(ctx, id)
	if err != nil {
		return nil, err
	}
	stages, err := s.store.Stages(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	out := make([]StageView, 0, len(stages))
	for _, st := range stages {
		out = append(out, StageView{Stage: st, Delta: json.RawMessage(st.Payload)})
	}
	return out, nil
}

// Artifact returns the stored body of one artifact.
func (s *Service) Artifact(ctx context.Context, id, name string) ([]byte, error) {
	r, err := s.run(ctx, id)
	if err != nil {
		return nil, err
	}
	id = r.ID
	body, err := s.store.Artifact(ctx, id, name)
	if err != nil {
		return nil, err
	}
	if body != nil {
		return body, nil
	}
	// An empty body may scan as nil; tell it apart from a missing row.
	names, err := s.store.ArtifactNames(ctx, id)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(names, name) {
		return nil, fmt.Errorf("%w: artifact %s of run %s", ErrNotFound, name, id)
	}
	return []byte{}, nil
}

// Preview returns the captured body of resourceURL from the run's textual
// resources.
func (s *Service) Preview(ctx context.Context, id, resourceURL string) (*Preview, error) {
	if resourceURL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalid)
	}
	raw, err := s.Artifact(ctx, id, artifact.TextualResources)
	if err != nil {
		return nil, err
	}
	var bodies map[string]string
	if err := json.Unmarshal(raw, &bodies); err != nil {
		return nil, fmt.Errorf("report: decode %s: %w", artifact.TextualResources, err)
	}
	body, ok := bodies[resourceURL]
	if !ok {
		return nil, fmt.Errorf("%w: resource %s", ErrNotFound, resourceURL)
	}

	sniffed := http.DetectContentType([]byte(body))
	p := &Preview{URL: resourceURL, ContentType: sniffed}
	if mime := s.recordedMIME(ctx, id, resourceURL); mime != "" {
		p.ContentType = mime
	}
	if isHTML(p.ContentType) || isHTML(sniffed) {
		body = s.policy.Sanitize(body)
	}
	p.Body = body
	return p, nil
}

// recordedMIME returns the MIME type the browser reported for the last
// successful fetch of resourceURL, or "" when the run has none.
func (s *Service) recordedMIME(ctx context.Context, id, resourceURL string) string {
	raw, err := s.Artifact(ctx, id, artifact.Fetches)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Debug("report: read fetches", "run", id, "error", err)
		}
		return ""
	}
	var fetches []provenance.Fetch
	if err := json.Unmarshal(raw, &fetches); err != nil {
		s.log.Debug("report: decode fetches", "run", id, "error", err)
		return ""
	}
	for i := len(fetches) - 1; i >= 0; i-- {
		if fetches[i].URL == resourceURL && fetches[i].MIME != "" {
			return fetches[i].MIME
		}
	}
	return ""
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "html")
}

func (s *Service) run(ctx context.Context, id string) (*store.Run, error) {
	id, err := idgen.ParseRun(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	r, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	return r, nil
}
