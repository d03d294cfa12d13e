package provenance

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/fidex/session"
)

// Fetch is one successful response, an entry of fetches.json.
type Fetch struct {
	URL          string               `json:"url"`
	Method       string               `json:"method"`
	Status       int                  `json:"status"`
	MIME         string               `json:"mime"`
	ResourceType string               `json:"resourceType"`
	Headers      proto.NetworkHeaders `json:"headers"`
}

// TextualMIME lists the MIME substrings whose bodies are kept.
var TextualMIME = []string{"html", "javascript", "css", "json", "plain"}

func textual(mime string) bool {
	for _, t := range TextualMIME {
		if strings.Contains(mime, t) {
			return true
		}
	}
	return false
}

// Fetches records every successful response and the body of textual ones.
// Bodies are read with Network.getResponseBody once loading finished, off
// the event goroutine; Wait blocks until pending reads are done.
type Fetches struct {
	mu       sync.Mutex
	requests map[proto.NetworkRequestID]requestInfo
	pending  map[proto.NetworkRequestID]string
	fetches  []Fetch
	bodies   map[string]string

	s   session.Session
	ctx context.Context
	log *slog.Logger
	wg  sync.WaitGroup
}

func ignoredURL(u string) bool {
	return strings.Contains(u, "chrome-extension://") || strings.Contains(u, "blob:")
}

// OnRequest remembers requests, skipping extension and blob URLs.
func (f *Fetches) OnRequest(e *proto.NetworkRequestWillBeSent) {
	if e.Request == nil || ignoredURL(e.Request.URL) {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requests == nil {
		f.requests = make(map[proto.NetworkRequestID]requestInfo)
	}
	f.requests[e.RequestID] = requestInfo{url: e.Request.URL, method: e.Request.Method}
}

// OnResponse records 2xx responses of known requests.
func (f *Fetches) OnResponse(e *proto.NetworkResponseReceived) {
	r := e.Response
	if r == nil || r.Status >= 300 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[e.RequestID]
	if !ok {
		return
	}
	f.fetches = append(f.fetches, Fetch{
		URL:          r.URL,
		Method:       req.method,
		Status:       r.Status,
		MIME:         r.MIMEType,
		ResourceType: string(e.Type),
		Headers:      r.Headers,
	})
	if textual(r.MIMEType) {
		if f.pending == nil {
			f.pending = make(map[proto.NetworkRequestID]string)
		}
		f.pending[e.RequestID] = r.URL
	}
}

// OnLoadingFinished starts the body read for textual responses.
func (f *Fetches) OnLoadingFinished(e *proto.NetworkLoadingFinished) {
	f.mu.Lock()
	u, ok := f.pending[e.RequestID]
	delete(f.pending, e.RequestID)
	s, ctx, log := f.s, f.ctx, f.log
	f.mu.Unlock()
	if !ok || s == nil {
		return
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		res, err := proto.NetworkGetResponseBody{RequestID: e.RequestID}.Call(session.WithContext(s, ctx))
		if err != nil {
			log.Warn("provenance: response body", "url", u, "error", err)
			return
		}
		body := res.Body
		if res.Base64Encoded {
			if b, err := base64.StdEncoding.DecodeString(body); err == nil {
				body = string(b)
			}
		}
		f.mu.Lock()
		if f.bodies == nil {
			f.bodies = make(map[string]string)
		}
		f.bodies[u] = body
		f.mu.Unlock()
	}()
}

// Wait blocks until every started body read returned.
func (f *Fetches) Wait() { f.wg.Wait() }

// List returns the recorded responses in arrival order.
func (f *Fetches) List() []Fetch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Fetch{}, f.fetches...)
}

// Bodies returns url → body text of textual responses.
func (f *Fetches) Bodies() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.bodies))
	for k, v := range f.bodies {
		out[k] = v
	}
	return out
}

func (f *Fetches) bind(ctx context.Context, s session.Session, log *slog.Logger) {
	f.mu.Lock()
	f.s, f.ctx, f.log = s, ctx, log
	f.mu.Unlock()
}
