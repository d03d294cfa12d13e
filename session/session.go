// Package session defines the asynchronous control channel to the rendering
// engine. The rest of fidex only ever talks to the browser through a Session:
// commands go out through the proto.Client half, events come back through
// Subscribe.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod/lib/proto"
)

// ErrClosed is returned by Call once the underlying target is gone. It is
// the only failure the measurement flow treats as fatal.
var ErrClosed = errors.New("session: closed")

// Event is one protocol event delivered to a subscriber.
type Event interface {
	Method() string
	// Decode fills e with the event params. e must be a pointer to the
	// proto type whose ProtoEvent matches Method.
	Decode(e proto.Event) error
}

// Session is the subscribe/send contract. Call satisfies proto.Client so the
// typed request helpers (proto.FetchEnable{}.Call(s), ...) work directly.
type Session interface {
	proto.Client
	// Subscribe registers fn for every event named method. Callbacks for one
	// session run sequentially in arrival order. The returned func removes the
	// subscription and is safe to call more than once.
	Subscribe(method string, fn func(Event)) (cancel func())
}

// On is a typed wrapper around Subscribe. newEvent must return a fresh
// pointer each time; it also names the subscribed method.
func On[E proto.Event](s Session, newEvent func() E, fn func(E)) (cancel func()) {
	method := newEvent().ProtoEvent()
	return s.Subscribe(method, func(ev Event) {
		e := newEvent()
		if err := ev.Decode(e); err != nil {
			slog.Debug("session: decode event", "method", method, "error", err)
			return
		}
		fn(e)
	})
}

// Enable turns on the tracing domains the correlator depends on and asks
// for async call stacks up to depth frames deep.
func Enable(ctx context.Context, s Session, depth int) error {
	c := withContext(s, ctx)
	if err := (proto.NetworkEnable{}).Call(c); err != nil {
		return fmt.Errorf("session: Network.enable: %w", err)
	}
	if err := (proto.RuntimeEnable{}).Call(c); err != nil {
		return fmt.Errorf("session: Runtime.enable: %w", err)
	}
	if err := (proto.DOMEnable{}).Call(c); err != nil {
		return fmt.Errorf("session: DOM.enable: %w", err)
	}
	if _, err := (proto.DebuggerEnable{}).Call(c); err != nil {
		return fmt.Errorf("session: Debugger.enable: %w", err)
	}
	if depth > 0 {
		if err := (proto.DebuggerSetAsyncCallStackDepth{MaxDepth: depth}).Call(c); err != nil {
			return fmt.Errorf("session: Debugger.setAsyncCallStackDepth: %w", err)
		}
	}
	return nil
}

// WithContext binds ctx to every typed proto call made through the returned
// client. proto helpers read the context through proto.Contextable.
func WithContext(s Session, ctx context.Context) proto.Client {
	return withContext(s, ctx)
}

type ctxClient struct {
	Session
	ctx context.Context
}

func (c ctxClient) GetContext() context.Context { return c.ctx }

// GetSessionID forwards the wrapped session's id when it has one.
func (c ctxClient) GetSessionID() proto.TargetSessionID {
	if sa, ok := c.Session.(proto.Sessionable); ok {
		return sa.GetSessionID()
	}
	return ""
}

func withContext(s Session, ctx context.Context) ctxClient {
	if ctx == nil {
		ctx = context.Background()
	}
	return ctxClient{Session: s, ctx: ctx}
}
