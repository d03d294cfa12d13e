package report

import (
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/fidex/kit"
)

// RegisterMCP registers the report tools on srv.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "fidex_list_runs",
		Description: "List recent fidelity runs, newest first, with their status and candidate counts.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max runs (default 50)"},
		}, nil),
	}, s.listRunsEndpoint(), kit.DecodeArgs[listRunsRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "fidex_get_run",
		Description: "Get one run and the names of its stored artifacts.",
		InputSchema: inputSchema(map[string]any{
			"run_id": map[string]any{"type": "string", "description": "Run id (run_<uuid>)"},
		}, []string{"run_id"}),
	}, s.runEndpoint(), kit.DecodeArgs[runRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "fidex_stage_deltas",
		Description: "Exceptions and failed fetches of each stage of a run (onload, then one per triggered interaction), in flush order.",
		InputSchema: inputSchema(map[string]any{
			"run_id": map[string]any{"type": "string", "description": "Run id (run_<uuid>)"},
		}, []string{"run_id"}),
	}, s.stagesEndpoint(), kit.DecodeArgs[runRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "fidex_preview",
		Description: "Captured body of one textual resource of a run. HTML is sanitised.",
		InputSchema: inputSchema(map[string]any{
			"run_id": map[string]any{"type": "string", "description": "Run id (run_<uuid>)"},
			"url":    map[string]any{"type": "string", "description": "Resource URL as captured"},
		}, []string{"run_id", "url"}),
	}, s.previewEndpoint(), kit.DecodeArgs[previewRequest])
}

// MCPServer returns a server with the report tools registered.
func (s *Service) MCPServer(version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "fidex", Version: version}, nil)
	s.RegisterMCP(srv)
	return srv
}

// MCPHandler serves srv over streamable HTTP.
func MCPHandler(srv *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
