package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/proto"
)

// Page adapts a rod page to the Session contract. A single pump goroutine
// reads page.Event() and fans each message out to the subscribers of its
// method, so callbacks never run concurrently with each other.
type Page struct {
	page      *rod.Page
	sessionID proto.TargetSessionID
	logger    *slog.Logger

	mu     sync.Mutex
	subs   map[string][]*subscription
	nextID int

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

type subscription struct {
	id int
	fn func(Event)
}

// FromPage wraps page. Close stops the pump; it does not close the page.
func FromPage(page *rod.Page, logger *slog.Logger) *Page {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(page.GetContext())
	return &Page{
		page:      page,
		sessionID: page.SessionID,
		logger:    logger,
		subs:      make(map[string][]*subscription),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Call implements proto.Client. An empty sessionID targets the wrapped page.
// A lost connection or a vanished target closes the session: the call and
// every later one fail with ErrClosed.
func (p *Page) Call(ctx context.Context, sessionID, method string, params interface{}) ([]byte, error) {
	if p.ctx.Err() != nil {
		return nil, ErrClosed
	}
	if sessionID == "" {
		sessionID = string(p.sessionID)
	}
	res, err := p.page.Call(ctx, sessionID, method, params)
	if err == nil {
		return res, nil
	}
	if p.ctx.Err() != nil || p.page.GetContext().Err() != nil {
		return nil, ErrClosed
	}
	if disconnected(ctx, err) {
		p.logger.Warn("session: target lost", "method", method, "error", err)
		p.cancel()
		return nil, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil, err
}

// disconnected tells a dead connection or target apart from a command the
// browser answered with an error. Protocol errors carry a *cdp.Error; only
// "session not found" among them means the target is gone. Anything else
// that is not the caller's own cancellation came from the websocket.
func disconnected(ctx context.Context, err error) bool {
	var perr *cdp.Error
	if errors.As(err, &perr) {
		return perr.Code == cdp.ErrSessionNotFound.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return ctx == nil || ctx.Err() == nil
}

// GetSessionID implements proto.Sessionable.
func (p *Page) GetSessionID() proto.TargetSessionID { return p.sessionID }

// Subscribe implements Session.
func (p *Page) Subscribe(method string, fn func(Event)) func() {
	p.once.Do(func() { go p.pump() })

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.subs[method] = append(p.subs[method], &subscription{id: id, fn: fn})
	p.mu.Unlock()

	var done sync.Once
	return func() {
		done.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			list := p.subs[method]
			for i, s := range list {
				if s.id == id {
					p.subs[method] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// Close stops event delivery. Subsequent calls return ErrClosed.
func (p *Page) Close() {
	p.cancel()
}

func (p *Page) pump() {
	defer p.cancel()
	events := p.page.Context(p.ctx).Event()
	for msg := range events {
		if !p.deliver(rodEvent{msg: msg}) {
			return
		}
	}
	p.logger.Debug("session: event pump stopped")
}

// deliver fans ev out to its subscribers and reports whether the target is
// still attached afterwards.
func (p *Page) deliver(ev Event) bool {
	p.mu.Lock()
	list := append([]*subscription(nil), p.subs[ev.Method()]...)
	p.mu.Unlock()

	for _, s := range list {
		s.fn(ev)
	}
	if p.detaches(ev) {
		p.logger.Warn("session: target detached", "event", ev.Method())
		p.cancel()
		return false
	}
	return true
}

func (p *Page) detaches(ev Event) bool {
	switch ev.Method() {
	case "Inspector.detached", "Inspector.targetCrashed":
		return true
	case "Target.detachedFromTarget":
		var e proto.TargetDetachedFromTarget
		return ev.Decode(&e) == nil && e.SessionID == p.sessionID
	}
	return false
}

type rodEvent struct {
	msg *rod.Message
}

func (e rodEvent) Method() string { return e.msg.Method }

func (e rodEvent) Decode(v proto.Event) (err error) {
	// Message.Load panics through utils.E on malformed params.
	defer func() {
		if r := recover(); r != nil {
			err = errDecode{method: e.msg.Method, cause: r}
		}
	}()
	if !e.msg.Load(v) {
		return errDecode{method: e.msg.Method, cause: "method mismatch " + v.ProtoEvent()}
	}
	return nil
}

type errDecode struct {
	method string
	cause  any
}

func (e errDecode) Error() string {
	return "session: decode " + e.method + ": " + toString(e.cause)
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	default:
		return "unknown"
	}
}
