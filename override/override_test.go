package override_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/fidex/override"
	"github.com/hazyhaar/fidex/session/sessiontest"
)

func paused(id, url, typ string) string {
	b, _ := json.Marshal(map[string]any{
		"requestId":    id,
		"frameId":      "F",
		"resourceType": typ,
		"request":      map[string]any{"url": url, "method": "GET", "headers": map[string]string{"User-Agent": "x"}},
	})
	return string(b)
}

type continued struct {
	RequestID string                    `json:"requestId"`
	Headers   []*proto.FetchHeaderEntry `json:"headers"`
}

func stamps(t *testing.T, f *sessiontest.Fake) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for _, c := range f.CallsTo("Fetch.continueRequest") {
		var p continued
		if err := json.Unmarshal(c.Params, &p); err != nil {
			t.Fatal(err)
		}
		for _, h := range p.Headers {
			if h.Name == override.HeaderName {
				out[p.RequestID] = h.Value
			}
		}
	}
	return out
}

func TestTimeTravel_Classification(t *testing.T) {
	f := sessiontest.New()
	l := override.NewLayer(override.NewTimeTravel(override.Policy{Primary: "T1", Patch: "T2", Subject: "http://a.com/"}), nil)
	if err := l.Start(context.Background(), f); err != nil {
		t.Fatal(err)
	}

	f.Emit("Fetch.requestPaused", paused("1", "http://a.com/", "Document"))
	f.Emit("Fetch.requestPaused", paused("2", "http://b.com/lib.js", "Script"))
	f.Emit("Fetch.requestPaused", paused("3", "http://a.com/style.css", "Stylesheet"))
	f.Emit("Fetch.requestPaused", paused("4", "http://c.com/", "Document"))
	f.Emit("Fetch.requestPaused", paused("5", "http://www.a.com/next", "Document"))

	want := map[string]string{"1": "T1", "2": "T2", "3": "T1", "4": "T2", "5": "T1"}
	if diff := cmp.Diff(want, stamps(t, f)); diff != "" {
		t.Errorf("stamps (-want +got):\n%s", diff)
	}

	enable := f.CallsTo("Fetch.enable")
	if len(enable) != 1 || string(enable[0].Params) != `{"patterns":[{"urlPattern":"*","requestStage":"Request"}]}` {
		t.Errorf("Fetch.enable: %+v", enable)
	}
}

func TestTimeTravel_KeepsHeadersAndFormatsTimestamps(t *testing.T) {
	f := sessiontest.New()
	l := override.NewLayer(override.NewTimeTravel(override.Policy{Primary: "20200102030405", Subject: "http://a.com/"}), nil)
	if err := l.Start(context.Background(), f); err != nil {
		t.Fatal(err)
	}
	f.Emit("Fetch.requestPaused", paused("1", "http://b.com/x.js", "Script"))

	calls := f.CallsTo("Fetch.continueRequest")
	if len(calls) != 1 {
		t.Fatalf("continue calls: %d", len(calls))
	}
	var p continued
	if err := json.Unmarshal(calls[0].Params, &p); err != nil {
		t.Fatal(err)
	}
	want := []*proto.FetchHeaderEntry{
		{Name: "User-Agent", Value: "x"},
		{Name: "Accept-Datetime", Value: "Thu, 02 Jan 2020 03:04:05 GMT"},
	}
	if diff := cmp.Diff(want, p.Headers); diff != "" {
		t.Errorf("headers (-want +got):\n%s", diff)
	}
}

func TestStatic_FulfilsExactMatchOnly(t *testing.T) {
	rules, err := override.ParseRules(strings.NewReader(`{"http://x/y.js": {"source": "console.log(1)", "plainText": true}}`))
	if err != nil {
		t.Fatal(err)
	}
	f := sessiontest.New()
	l := override.NewLayer(override.NewStatic(rules, nil), nil)
	if err := l.Start(context.Background(), f); err != nil {
		t.Fatal(err)
	}

	f.Emit("Fetch.requestPaused", paused("1", "http://x/y.js", "Script"))
	f.Emit("Fetch.requestPaused", paused("2", "http://x/y.js?v=2", "Script"))

	ful := f.CallsTo("Fetch.fulfillRequest")
	if len(ful) != 1 {
		t.Fatalf("fulfil calls: %d", len(ful))
	}
	var p struct {
		RequestID    string `json:"requestId"`
		ResponseCode int    `json:"responseCode"`
		Body         string `json:"body"`
	}
	if err := json.Unmarshal(ful[0].Params, &p); err != nil {
		t.Fatal(err)
	}
	if p.RequestID != "1" || p.ResponseCode != 200 || p.Body != "Y29uc29sZS5sb2coMSk=" {
		t.Errorf("fulfil params: %+v", p)
	}

	cont := f.CallsTo("Fetch.continueRequest")
	if len(cont) != 1 || string(cont[0].Params) != `{"requestId":"2"}` {
		t.Errorf("continue calls: %+v", cont)
	}
	if h, fails := l.Stats(); h != 2 || fails != 0 {
		t.Errorf("stats: handled %d, failures %d", h, fails)
	}
}

func TestStatic_Base64SourceAndStatus(t *testing.T) {
	f := sessiontest.New()
	l := override.NewLayer(override.NewStatic(map[string]override.Rule{
		"http://x/a": {Source: "aGk="},
	}, nil), nil)
	if err := l.Start(context.Background(), f); err != nil {
		t.Fatal(err)
	}
	f.Emit("Fetch.requestPaused", `{"requestId":"1","frameId":"F","resourceType":"XHR","responseStatusCode":404,
		"responseHeaders":[{"name":"Content-Type","value":"text/plain"}],
		"request":{"url":"http://x/a","method":"GET","headers":{}}}`)

	ful := f.CallsTo("Fetch.fulfillRequest")
	if len(ful) != 1 {
		t.Fatalf("fulfil calls: %d", len(ful))
	}
	want := `{"requestId":"1","responseCode":404,"responseHeaders":[{"name":"Content-Type","value":"text/plain"}],"body":"aGk="}`
	if string(ful[0].Params) != want {
		t.Errorf("got %s\nwant %s", ful[0].Params, want)
	}
}

func TestLayer_StopContinuesUnansweredRequests(t *testing.T) {
	f := sessiontest.New()
	f.Reply("Fetch.fulfillRequest", func(json.RawMessage) (any, error) {
		return nil, errors.New("target busy")
	})
	l := override.NewLayer(override.NewStatic(map[string]override.Rule{
		"http://x/y.js": {Source: "1", PlainText: true},
	}, nil), nil)
	if err := l.Start(context.Background(), f); err != nil {
		t.Fatal(err)
	}
	f.Emit("Fetch.requestPaused", paused("7", "http://x/y.js", "Script"))
	if _, fails := l.Stats(); fails != 1 {
		t.Fatalf("failures: %d", fails)
	}

	if err := l.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	cont := f.CallsTo("Fetch.continueRequest")
	if len(cont) != 1 || string(cont[0].Params) != `{"requestId":"7"}` {
		t.Errorf("continue on stop: %+v", cont)
	}
	if len(f.CallsTo("Fetch.disable")) != 1 {
		t.Error("Fetch.disable not sent")
	}
	if f.Subscribers("Fetch.requestPaused") != 0 {
		t.Error("subscription left after Stop")
	}

	// After Stop nothing is answered twice and a second Stop is a no-op.
	f.Emit("Fetch.requestPaused", paused("8", "http://x/other", "Script"))
	if err := l.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(f.CallsTo("Fetch.continueRequest")); n != 1 {
		t.Errorf("continue calls after stop: %d", n)
	}
}

func TestLayer_AnswersRequestPausedDuringEnable(t *testing.T) {
	f := sessiontest.New()
	f.Reply("Fetch.enable", func(json.RawMessage) (any, error) {
		f.Emit("Fetch.requestPaused", paused("early", "http://x/other", "Script"))
		return nil, nil
	})
	l := override.NewLayer(override.NewStatic(map[string]override.Rule{
		"http://x/y.js": {Source: "1", PlainText: true},
	}, nil), nil)
	if err := l.Start(context.Background(), f); err != nil {
		t.Fatal(err)
	}
	if err := l.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	cont := f.CallsTo("Fetch.continueRequest")
	if len(cont) != 1 || string(cont[0].Params) != `{"requestId":"early"}` {
		t.Errorf("continue: %+v", cont)
	}
	if n := len(f.CallsTo("Fetch.fulfillRequest")); n != 0 {
		t.Errorf("fulfil calls: %d", n)
	}
	if handled, fails := l.Stats(); handled != 1 || fails != 0 {
		t.Errorf("stats: handled %d, failures %d", handled, fails)
	}
}

func TestLayer_FailedEnableLeavesNoSubscription(t *testing.T) {
	f := sessiontest.New()
	f.Reply("Fetch.enable", func(json.RawMessage) (any, error) {
		return nil, errors.New("Fetch domain unavailable")
	})
	l := override.NewLayer(override.NewStatic(nil, nil), nil)
	if err := l.Start(context.Background(), f); err == nil {
		t.Fatal("expected Fetch.enable error")
	}
	if f.Subscribers("Fetch.requestPaused") != 0 {
		t.Error("subscription left after failed start")
	}
}

func TestFormatTimestamp(t *testing.T) {
	if got := override.FormatTimestamp("19991231235959"); got != "Fri, 31 Dec 1999 23:59:59 GMT" {
		t.Errorf("got %q", got)
	}
	if got := override.FormatTimestamp("T1"); got != "T1" {
		t.Errorf("passthrough: got %q", got)
	}
}
