package report

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/fidex/kit"
)

type listRunsRequest struct {
	Limit int `json:"limit,omitempty"`
}

type runRequest struct {
	RunID string `json:"run_id"`
}

type artifactRequest struct {
	RunID string `json:"run_id"`
	Name  string `json:"name"`
}

type previewRequest struct {
	RunID string `json:"run_id"`
	URL   string `json:"url"`
}

// rawBody is written as is instead of JSON-encoded.
type rawBody struct {
	contentType string
	data        []byte
}

func (s *Service) endpoint(name string, ep kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.Logging(s.log, name), kit.Tracing(name))(ep)
}

func (s *Service) listRunsEndpoint() kit.Endpoint {
	return s.endpoint("list_runs", func(ctx context.Context, req any) (any, error) {
		return s.ListRuns(ctx, req.(*listRunsRequest).Limit)
	})
}

func (s *Service) runEndpoint() kit.Endpoint {
	return s.endpoint("get_run", func(ctx context.Context, req any) (any, error) {
		return s.Run(ctx, req.(*runRequest).RunID)
	})
}

func (s *Service) stagesEndpoint() kit.Endpoint {
	return s.endpoint("stage_deltas", func(ctx context.Context, req any) (any, error) {
		return s.Stages(ctx, req.(*runRequest).RunID)
	})
}

func (s *Service) artifactEndpoint() kit.Endpoint {
	return s.endpoint("get_artifact", func(ctx context.Context, req any) (any, error) {
		r := req.(*artifactRequest)
		body, err := s.Artifact(ctx, r.RunID, r.Name)
		if err != nil {
			return nil, err
		}
		ct := "application/octet-stream"
		if path.Ext(r.Name) == ".json" {
			ct = "application/json"
		}
		return rawBody{contentType: ct, data: body}, nil
	})
}

func (s *Service) previewEndpoint() kit.Endpoint {
	return s.endpoint("preview", func(ctx context.Context, req any) (any, error) {
		r := req.(*previewRequest)
		return s.Preview(ctx, r.RunID, r.URL)
	})
}

// Handler returns the HTTP API, with the MCP server mounted at /mcp.
func (s *Service) Handler(mcpHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders(DefaultHeaders()))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.serve(s.listRunsEndpoint(), func(r *http.Request) (any, error) {
			return &listRunsRequest{Limit: queryInt(r, "limit", 0)}, nil
		}))
		r.Get("/{id}", s.serve(s.runEndpoint(), func(r *http.Request) (any, error) {
			return &runRequest{RunID: chi.URLParam(r, "id")}, nil
		}))
		r.Get("/{id}/stages", s.serve(s.stagesEndpoint(), func(r *http.Request) (any, error) {
			return &runRequest{RunID: chi.URLParam(r, "id")}, nil
		}))
		r.Get("/{id}/artifacts/{name}", s.serve(s.artifactEndpoint(), func(r *http.Request) (any, error) {
			return &artifactRequest{RunID: chi.URLParam(r, "id"), Name: chi.URLParam(r, "name")}, nil
		}))
		r.Get("/{id}/preview", s.serve(s.previewEndpoint(), func(r *http.Request) (any, error) {
			return &previewRequest{RunID: chi.URLParam(r, "id"), URL: r.URL.Query().Get("url")}, nil
		}))
	})

	if mcpHandler != nil {
		r.Handle("/mcp", mcpHandler)
	}
	return r
}

func (s *Service) serve(ep kit.Endpoint, decode func(*http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := kit.WithTransport(r.Context(), kit.TransportHTTP)
		ctx = kit.WithRequestID(ctx, middleware.GetReqID(r.Context()))
		ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)

		req, err := decode(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := ep(ctx, req)
		if err != nil {
			writeError(w, statusOf(err), err)
			return
		}
		if raw, ok := resp.(rawBody); ok {
			w.Header().Set("Content-Type", raw.contentType)
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write(raw.data); err != nil {
				s.log.Debug("report: write body", "error", err)
			}
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("report: encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
