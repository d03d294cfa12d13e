// Package override intercepts requests at the protocol level, either to
// serve synthetic bodies for exact URLs (Static) or to stamp archival
// Accept-Datetime headers (TimeTravel).
//
// Every paused request is answered exactly once: by the handler, or by Stop
// for requests whose answer failed.
package override

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/fidex/session"
)

// Handler is one interception mode.
type Handler interface {
	// Patterns are passed to Fetch.enable.
	Patterns() []*proto.FetchRequestPattern
	// Handle answers e with exactly one Fetch.continueRequest or
	// Fetch.fulfillRequest through c. It runs on the event goroutine and
	// must not block beyond that call.
	Handle(c proto.Client, e *proto.FetchRequestPaused) error
}

// Layer binds one Handler to a session. The mode is fixed for the life of
// the layer.
type Layer struct {
	h   Handler
	log *slog.Logger

	mu       sync.Mutex
	s        session.Session
	ctx      context.Context
	cancel   func()
	started  bool
	stopped  bool
	pending  map[proto.FetchRequestID]bool
	handled  int
	failures int
}

// NewLayer returns an idle layer for h.
func NewLayer(h Handler, logger *slog.Logger) *Layer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Layer{h: h, log: logger, pending: make(map[proto.FetchRequestID]bool)}
}

// Start enables interception on s. A layer starts once.
func (l *Layer) Start(ctx context.Context, s session.Session) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return errors.New("override: layer already started")
	}
	l.started = true
	l.s, l.ctx = s, ctx
	l.cancel = session.On(s, func() *proto.FetchRequestPaused { return &proto.FetchRequestPaused{} }, l.onPaused)
	l.mu.Unlock()

	// Requests can pause as soon as Fetch.enable is processed.
	if err := (proto.FetchEnable{Patterns: l.h.Patterns()}).Call(session.WithContext(s, ctx)); err != nil {
		l.mu.Lock()
		l.cancel()
		l.cancel = nil
		l.mu.Unlock()
		return fmt.Errorf("override: Fetch.enable: %w", err)
	}
	return nil
}

func (l *Layer) onPaused(e *proto.FetchRequestPaused) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.pending[e.RequestID] = true
	if err := l.h.Handle(session.WithContext(l.s, l.ctx), e); err != nil {
		l.failures++
		url := ""
		if e.Request != nil {
			url = e.Request.URL
		}
		l.log.Warn("override: answer paused request", "url", url, "error", err)
		return
	}
	delete(l.pending, e.RequestID)
	l.handled++
}

// Stop removes the subscription, continues every request whose answer
// failed, and disables interception. Stop on a stopped layer is a no-op.
func (l *Layer) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.started || l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	if l.cancel != nil {
		l.cancel()
	}
	c := session.WithContext(l.s, ctx)
	for id := range l.pending {
		if err := (proto.FetchContinueRequest{RequestID: id}).Call(c); err != nil {
			l.log.Warn("override: continue on stop", "request", id, "error", err)
		}
		delete(l.pending, id)
	}
	l.mu.Unlock()

	if err := (proto.FetchDisable{}).Call(c); err != nil {
		return fmt.Errorf("override: Fetch.disable: %w", err)
	}
	return nil
}

// Stats reports answered requests and failed answers.
func (l *Layer) Stats() (handled, failures int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handled, l.failures
}
