package provenance_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/fidex/provenance"
	"github.com/hazyhaar/fidex/session/sessiontest"
)

func attached(t *testing.T) (*provenance.Correlator, *sessiontest.Fake) {
	t.Helper()
	f := sessiontest.New()
	c := provenance.New(provenance.Options{})
	c.Attach(context.Background(), f)
	t.Cleanup(c.Detach)
	return c, f
}

func request(id, url string, line int) string {
	return fmt.Sprintf(`{"requestId":%q,"request":{"url":%q,"method":"GET","headers":{}},
		"initiator":{"type":"script","stack":{"callFrames":[
			{"functionName":"load","scriptId":"1","url":"http://a.com/app.js","lineNumber":%d,"columnNumber":4}],
			"parent":{"description":"setTimeout","callFrames":[
				{"functionName":"boot","scriptId":"1","url":"http://a.com/app.js","lineNumber":1,"columnNumber":0}]}}}}`,
		id, url, line)
}

func TestRequests_ExactSignatureGrouping(t *testing.T) {
	c, f := attached(t)
	f.Emit("Network.requestWillBeSent", request("1", "http://a.com/x.json", 10))
	f.Emit("Network.requestWillBeSent", request("2", "http://a.com/y.json", 10))
	f.Emit("Network.requestWillBeSent", request("3", "http://a.com/z.json", 11))

	got := c.Requests.List()
	if len(got) != 2 {
		t.Fatalf("buckets: got %d, want 2", len(got))
	}
	if diff := cmp.Diff([]string{"http://a.com/x.json", "http://a.com/y.json"}, got[0].URLs); diff != "" {
		t.Errorf("merged bucket (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"http://a.com/z.json"}, got[1].URLs); diff != "" {
		t.Errorf("split bucket (-want +got):\n%s", diff)
	}

	want := []provenance.Segment{
		{CallFrames: []provenance.Frame{{FunctionName: "load", URL: "http://a.com/app.js", LineNumber: 10, ColumnNumber: 4}}},
		{Description: "setTimeout", CallFrames: []provenance.Frame{{FunctionName: "boot", URL: "http://a.com/app.js", LineNumber: 1}}},
	}
	if diff := cmp.Diff(want, got[0].StackInfo); diff != "" {
		t.Errorf("stack info (-want +got):\n%s", diff)
	}
}

func TestRequests_InitiatorSegmentOnTop(t *testing.T) {
	c, f := attached(t)
	f.Emit("Network.requestWillBeSent", `{"requestId":"1","request":{"url":"http://a.com/img.png","method":"GET","headers":{}},
		"initiator":{"type":"parser","url":"http://a.com/","lineNumber":12,"columnNumber":3}}`)
	f.Emit("Network.requestWillBeSent", `{"requestId":"2","request":{"url":"http://a.com/","method":"GET","headers":{}},
		"initiator":{"type":"other"}}`)

	got := c.Requests.List()
	if len(got) != 2 {
		t.Fatalf("buckets: got %d, want 2", len(got))
	}
	want := []provenance.Segment{{Description: "initiator", CallFrames: []provenance.Frame{{URL: "http://a.com/", LineNumber: 12, ColumnNumber: 3}}}}
	if diff := cmp.Diff(want, got[0].StackInfo); diff != "" {
		t.Errorf("initiator (-want +got):\n%s", diff)
	}
	b, err := json.Marshal(got[1])
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"stackInfo":[],"urls":["http://a.com/"]}` {
		t.Errorf("empty stack entry: %s", b)
	}
}

func console(typ, msg, bottomURL string, line int) string {
	return fmt.Sprintf(`{"type":%q,"args":[{"type":"string","value":%q}],"executionContextId":1,"timestamp":1.5,
		"stackTrace":{"callFrames":[
			{"functionName":"set","scriptId":"2","url":"http://a.com/app.js","lineNumber":%d,"columnNumber":1},
			{"functionName":"","scriptId":"3","url":%q,"lineNumber":0,"columnNumber":0}]}}`,
		typ, msg, line, bottomURL)
}

func TestWriteID(t *testing.T) {
	if id, ok := provenance.WriteID("wid 42"); !ok || id != "42" {
		t.Errorf(`"wid 42": got %q,%v`, id, ok)
	}
	if _, ok := provenance.WriteID("not-a-wid-message"); ok {
		t.Error("non-wid message matched")
	}
}

func TestWrites_FilterAndGroup(t *testing.T) {
	c, f := attached(t)
	f.Emit("Runtime.consoleAPICalled", console("warning", "wid 42", "http://a.com/main.js", 5))
	f.Emit("Runtime.consoleAPICalled", console("warning", "wid 43", "http://a.com/main.js", 5))
	f.Emit("Runtime.consoleAPICalled", console("warning", "not-a-wid-message", "http://a.com/main.js", 5))
	f.Emit("Runtime.consoleAPICalled", console("log", "wid 44", "http://a.com/main.js", 5))
	f.Emit("Runtime.consoleAPICalled", console("warning", "wid 45", "chrome-extension://abc/inject.js", 5))

	got := c.Writes.List()
	if len(got) != 1 {
		t.Fatalf("buckets: got %d, want 1", len(got))
	}
	if diff := cmp.Diff([]string{"42", "43"}, got[0].WIDs); diff != "" {
		t.Errorf("wids (-want +got):\n%s", diff)
	}
}

func TestWrites_NoBucketForNonMarker(t *testing.T) {
	c, f := attached(t)
	f.Emit("Runtime.consoleAPICalled", console("warning", "not-a-wid-message", "http://a.com/main.js", 5))
	if c.Writes.Len() != 0 {
		t.Fatalf("buckets: got %d, want 0", c.Writes.Len())
	}
}

func TestFaults_FlushOnload(t *testing.T) {
	c, f := attached(t)
	f.Emit("Runtime.exceptionThrown", `{"timestamp":12.5,"exceptionDetails":{"exceptionId":3,"text":"Uncaught","lineNumber":7,"columnNumber":2,
		"url":"http://a.com/app.js","exception":{"type":"object","description":"TypeError: x is undefined"}}}`)
	f.Emit("Network.requestWillBeSent", `{"requestId":"9","request":{"url":"http://a.com/missing.js","method":"GET","headers":{}}}`)
	f.Emit("Network.responseReceived", `{"requestId":"9","type":"Script","response":{"url":"http://a.com/missing.js","status":404,"mimeType":"text/html","headers":{}}}`)

	d := c.Faults.Flush("onload", map[string]any{})

	if d.Stage != "onload" {
		t.Errorf("stage: got %q", d.Stage)
	}
	wantExc := []provenance.Exception{{TS: 12.5, Description: "TypeError: x is undefined", ID: 3, ScriptURL: "http://a.com/app.js", Line: 7, Column: 2}}
	if diff := cmp.Diff(wantExc, d.Exceptions); diff != "" {
		t.Errorf("exceptions (-want +got):\n%s", diff)
	}
	wantFF := []provenance.FailedFetch{{URL: "http://a.com/missing.js", MIME: "Script", Method: "GET", Status: 404}}
	if diff := cmp.Diff(wantFF, d.FailedFetches); diff != "" {
		t.Errorf("failed fetches (-want +got):\n%s", diff)
	}

	if e, ff := c.Faults.Pending(); e != 0 || ff != 0 {
		t.Errorf("pending after flush: %d exceptions, %d failed", e, ff)
	}
	deltas := c.Faults.Deltas()
	if len(deltas) != 1 || deltas[0].Stage != "onload" {
		t.Fatalf("delta log: %+v", deltas)
	}
	exc, failed := c.Faults.Totals()
	if len(exc) != 1 || len(failed) != 1 {
		t.Errorf("totals: %d exceptions, %d failed", len(exc), len(failed))
	}

	next := c.Faults.Flush("interaction_0", nil)
	b, err := json.Marshal(next)
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"stage":"interaction_0","interaction":{},"exceptions":[],"failedFetches":[]}`; string(b) != want {
		t.Errorf("empty delta: got %s, want %s", b, want)
	}
	if len(c.Faults.Deltas()) != 2 {
		t.Errorf("delta log length: %d", len(c.Faults.Deltas()))
	}
}

func TestFaults_LoadingFailed(t *testing.T) {
	c, f := attached(t)
	f.Emit("Network.requestWillBeSent", `{"requestId":"1","request":{"url":"http://b.com/api","method":"POST","headers":{}}}`)
	f.Emit("Network.loadingFailed", `{"requestId":"1","timestamp":1,"type":"Fetch","errorText":"net::ERR_FAILED","corsErrorStatus":{"corsError":"MissingAllowOriginHeader","failedParameter":""}}`)
	f.Emit("Network.loadingFailed", `{"requestId":"unknown","timestamp":1,"type":"Fetch","errorText":"net::ERR_ABORTED"}`)

	d := c.Faults.Flush("onload", nil)
	want := []provenance.FailedFetch{{
		URL: "http://b.com/api", MIME: "Fetch", Method: "POST",
		ErrorText: "net::ERR_FAILED", CorsErrorStatus: "MissingAllowOriginHeader",
	}}
	if diff := cmp.Diff(want, d.FailedFetches); diff != "" {
		t.Errorf("failed fetches (-want +got):\n%s", diff)
	}
}

func TestFetches_RecordsAndReadsTextualBodies(t *testing.T) {
	f := sessiontest.New()
	f.Reply("Network.getResponseBody", func(params json.RawMessage) (any, error) {
		var p struct {
			RequestID string `json:"requestId"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		if p.RequestID == "2" {
			return map[string]any{"body": "Ym9keSB7fQ==", "base64Encoded": true}, nil
		}
		return map[string]any{"body": "<html></html>", "base64Encoded": false}, nil
	})
	c := provenance.New(provenance.Options{})
	c.Attach(context.Background(), f)

	emit := func(id, url string, status int, mime string) {
		f.Emit("Network.requestWillBeSent", fmt.Sprintf(`{"requestId":%q,"request":{"url":%q,"method":"GET","headers":{}}}`, id, url))
		f.Emit("Network.responseReceived", fmt.Sprintf(`{"requestId":%q,"type":"Other","response":{"url":%q,"status":%d,"mimeType":%q,"headers":{"x":"1"}}}`, id, url, status, mime))
		f.Emit("Network.loadingFinished", fmt.Sprintf(`{"requestId":%q,"timestamp":1,"encodedDataLength":10}`, id))
	}
	emit("1", "http://a.com/", 200, "text/html")
	emit("2", "http://a.com/s.css", 200, "text/css")
	emit("3", "http://a.com/i.png", 200, "image/png")
	emit("4", "http://a.com/old", 301, "text/html")
	emit("5", "chrome-extension://abc/x.js", 200, "application/javascript")
	c.Detach()

	var urls []string
	for _, r := range c.Fetches.List() {
		urls = append(urls, r.URL)
	}
	if diff := cmp.Diff([]string{"http://a.com/", "http://a.com/s.css", "http://a.com/i.png"}, urls); diff != "" {
		t.Errorf("fetches (-want +got):\n%s", diff)
	}
	want := map[string]string{"http://a.com/": "<html></html>", "http://a.com/s.css": "body {}"}
	if diff := cmp.Diff(want, c.Fetches.Bodies()); diff != "" {
		t.Errorf("bodies (-want +got):\n%s", diff)
	}
}

func TestViolations(t *testing.T) {
	c, f := attached(t)
	f.Emit("Runtime.consoleAPICalled", console("log", "Fidex storage mismatch", "http://a.com/main.js", 9))
	f.Emit("Runtime.consoleAPICalled", console("log", "Fidexnope", "http://a.com/main.js", 9))

	got := c.Violations.List()
	if len(got) != 1 {
		t.Fatalf("violations: got %d, want 1", len(got))
	}
	v := got[0]
	if v.Description != "Fidex storage mismatch" || v.ScriptURL != "http://a.com/app.js" || v.Line != 9 || v.TS != 1.5 {
		t.Errorf("violation: %+v", v)
	}
	if len(v.Stack) != 1 || len(v.Stack[0].CallFrames) != 2 {
		t.Errorf("stack: %+v", v.Stack)
	}
}

func TestDetach_RemovesSubscriptions(t *testing.T) {
	f := sessiontest.New()
	c := provenance.New(provenance.Options{})
	c.Attach(context.Background(), f)
	c.Detach()
	for _, m := range []string{"Network.requestWillBeSent", "Runtime.consoleAPICalled", "Runtime.exceptionThrown"} {
		if n := f.Subscribers(m); n != 0 {
			t.Errorf("%s: %d subscribers left", m, n)
		}
	}
	f.Emit("Network.requestWillBeSent", request("1", "http://a.com/x", 1))
	if c.Requests.Len() != 0 {
		t.Error("detached correlator still recording")
	}
}
