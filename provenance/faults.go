package provenance

import (
	"sync"

	"github.com/go-rod/rod/lib/proto"
)

// Exception is one uncaught page exception.
type Exception struct {
	TS          float64   `json:"ts"`
	Description string    `json:"description"`
	ID          int       `json:"id"`
	ScriptURL   string    `json:"scriptURL"`
	Line        int       `json:"line"`
	Column      int       `json:"column"`
	Stack       []Segment `json:"stack,omitempty"`
}

// FailedFetch is a response with status >= 400 or a request that never
// completed.
type FailedFetch struct {
	URL             string `json:"url"`
	MIME            string `json:"mime"`
	Method          string `json:"method"`
	Status          int    `json:"status,omitempty"`
	ErrorText       string `json:"errorText,omitempty"`
	Canceled        bool   `json:"canceled,omitempty"`
	BlockedReason   string `json:"blockedReason,omitempty"`
	CorsErrorStatus string `json:"corsErrorStatus,omitempty"`
}

// Delta is what one stage contributed, one entry of
// exception_failfetch.json.
type Delta struct {
	Stage         string        `json:"stage"`
	Interaction   any           `json:"interaction"`
	Exceptions    []Exception   `json:"exceptions"`
	FailedFetches []FailedFetch `json:"failedFetches"`
}

type requestInfo struct {
	url    string
	method string
}

// Faults accumulates exceptions and failed fetches for the current stage.
// Flush is the only stage-scoped reset in the package.
type Faults struct {
	mu         sync.Mutex
	requests   map[proto.NetworkRequestID]requestInfo
	exceptions []Exception
	failed     []FailedFetch
	deltas     []Delta
	totalExc   []Exception
	totalFail  []FailedFetch
}

// OnRequest remembers the url and method of every outgoing request; only
// known requests can be reported as failed.
func (f *Faults) OnRequest(e *proto.NetworkRequestWillBeSent) {
	if e.Request == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requests == nil {
		f.requests = make(map[proto.NetworkRequestID]requestInfo)
	}
	f.requests[e.RequestID] = requestInfo{url: e.Request.URL, method: e.Request.Method}
}

// OnResponse records responses with status >= 400.
func (f *Faults) OnResponse(e *proto.NetworkResponseReceived) {
	if e.Response == nil || e.Response.Status < 400 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[e.RequestID]
	if !ok {
		return
	}
	f.failed = append(f.failed, FailedFetch{
		URL:    e.Response.URL,
		MIME:   string(e.Type),
		Method: req.method,
		Status: e.Response.Status,
	})
}

// OnLoadingFailed records requests that never produced a response.
func (f *Faults) OnLoadingFailed(e *proto.NetworkLoadingFailed) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[e.RequestID]
	if !ok {
		return
	}
	ff := FailedFetch{
		URL:           req.url,
		MIME:          string(e.Type),
		Method:        req.method,
		ErrorText:     e.ErrorText,
		Canceled:      e.Canceled,
		BlockedReason: string(e.BlockedReason),
	}
	if e.CorsErrorStatus != nil {
		ff.CorsErrorStatus = string(e.CorsErrorStatus.CorsError)
	}
	f.failed = append(f.failed, ff)
}

// OnException records an uncaught exception.
func (f *Faults) OnException(e *proto.RuntimeExceptionThrown) {
	d := e.ExceptionDetails
	if d == nil {
		return
	}
	ex := Exception{
		TS:        float64(e.Timestamp),
		ID:        d.ExceptionID,
		ScriptURL: d.URL,
		Line:      d.LineNumber,
		Column:    d.ColumnNumber,
	}
	if d.Exception != nil {
		ex.Description = d.Exception.Description
	}
	if ex.Description == "" {
		ex.Description = d.Text
	}
	if d.StackTrace != nil {
		ex.Stack = Segments(d.StackTrace)
	}
	f.mu.Lock()
	f.exceptions = append(f.exceptions, ex)
	f.mu.Unlock()
}

// Flush packages the current exceptions and failed fetches with stage and
// interaction into a Delta, appends it to the delta log, folds both lists
// into the session totals and clears them.
func (f *Faults) Flush(stage string, interaction any) Delta {
	f.mu.Lock()
	defer f.mu.Unlock()
	if interaction == nil {
		interaction = struct{}{}
	}
	d := Delta{
		Stage:         stage,
		Interaction:   interaction,
		Exceptions:    append([]Exception{}, f.exceptions...),
		FailedFetches: append([]FailedFetch{}, f.failed...),
	}
	f.deltas = append(f.deltas, d)
	f.totalExc = append(f.totalExc, f.exceptions...)
	f.totalFail = append(f.totalFail, f.failed...)
	f.exceptions = nil
	f.failed = nil
	return d
}

// Pending reports how many exceptions and failed fetches await the next
// Flush.
func (f *Faults) Pending() (exceptions, failed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.exceptions), len(f.failed)
}

// Deltas returns the delta log.
func (f *Faults) Deltas() []Delta {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Delta(nil), f.deltas...)
}

// Totals returns everything flushed so far.
func (f *Faults) Totals() ([]Exception, []FailedFetch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Exception(nil), f.totalExc...), append([]FailedFetch(nil), f.totalFail...)
}
