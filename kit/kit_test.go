package kit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	chained := Chain(mw("a"), mw("b"), mw("c"))(base)
	resp, err := chained(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}

	expected := []string{"a_before", "b_before", "c_before", "endpoint", "c_after", "b_after", "a_after"}
	if len(order) != len(expected) {
		t.Fatalf("order length: got %d, want %d", len(order), len(expected))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Fatalf("order[%d]: got %q, want %q", i, order[i], v)
		}
	}
}

func TestChain_ErrorPropagation(t *testing.T) {
	errFail := errors.New("fail")
	base := func(_ context.Context, _ any) (any, error) {
		return nil, errFail
	}

	noop := func(next Endpoint) Endpoint { return next }
	chained := Chain(noop)(base)

	_, err := chained(context.Background(), nil)
	if !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
}

func TestContext_Transport_Default(t *testing.T) {
	ctx := context.Background()
	if v := GetTransport(ctx); v != "http" {
		t.Fatalf("default transport: got %q, want 'http'", v)
	}
	ctx = WithTransport(ctx, "mcp")
	if v := GetTransport(ctx); v != "mcp" {
		t.Fatalf("transport: got %q", v)
	}
}

func TestContext_Values(t *testing.T) {
	ctx := context.Background()
	if GetRequestID(ctx) != "" || GetRemoteAddr(ctx) != "" {
		t.Fatal("empty context should carry no values")
	}
	ctx = WithRemoteAddr(WithRequestID(ctx, "req_abc"), "10.0.0.1:5000")
	if v := GetRequestID(ctx); v != "req_abc" {
		t.Fatalf("request_id: got %q", v)
	}
	if v := GetRemoteAddr(ctx); v != "10.0.0.1:5000" {
		t.Fatalf("remote_addr: got %q", v)
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ok := Logging(log, "list_runs")(func(context.Context, any) (any, error) { return 1, nil })
	bad := Logging(log, "get_run")(func(context.Context, any) (any, error) { return nil, errors.New("boom") })

	if _, err := ok(WithRequestID(context.Background(), "r1"), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := bad(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}

	out := buf.String()
	for _, want := range []string{`"msg":"kit: endpoint served"`, `"endpoint":"list_runs"`, `"request_id":"r1"`,
		`"level":"WARN"`, `"msg":"kit: endpoint failed"`, `"error":"boom"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s:\n%s", want, out)
		}
	}
}

func TestTracing_RecordsSpanAndError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ep := Tracing("report.get_run")(func(context.Context, any) (any, error) { return nil, errors.New("missing") })
	if _, err := ep(WithTransport(context.Background(), "mcp"), nil); err == nil {
		t.Fatal("expected error")
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	s := spans[0]
	if s.Name() != "report.get_run" {
		t.Errorf("span name = %q", s.Name())
	}
	if s.Status().Code != codes.Error {
		t.Errorf("status = %v, want error", s.Status().Code)
	}
	found := false
	for _, a := range s.Attributes() {
		if a.Key == "fidex.transport" && a.Value.AsString() == "mcp" {
			found = true
		}
	}
	if !found {
		t.Errorf("transport attribute missing: %v", s.Attributes())
	}
}

type echoReq struct {
	Name string `json:"name"`
}

func TestRegisterMCPTool(t *testing.T) {
	ctx := context.Background()
	srv := mcp.NewServer(&mcp.Implementation{Name: "test", Version: "v0"}, nil)

	var transport string
	RegisterMCPTool(srv, &mcp.Tool{
		Name:        "echo",
		Description: "echo the name",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{"name": map[string]any{"type": "string"}}},
	}, func(ctx context.Context, req any) (any, error) {
		transport = GetTransport(ctx)
		r := req.(*echoReq)
		if r.Name == "" {
			return nil, errors.New("name required")
		}
		return map[string]string{"hello": r.Name}, nil
	}, DecodeArgs[echoReq])

	st, ct := mcp.NewInMemoryTransports()
	ss, err := srv.Connect(ctx, st, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ss.Close()
	cs, err := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "v0"}, nil).Connect(ctx, ct, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer cs.Close()

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"name": "fidex"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %+v", res.Content)
	}
	text := res.Content[0].(*mcp.TextContent).Text
	if text != `{"hello":"fidex"}` {
		t.Errorf("result = %s", text)
	}
	if transport != "mcp" {
		t.Errorf("transport = %q, want mcp", transport)
	}

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("empty name should be a tool error")
	}
}
