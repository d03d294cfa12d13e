// Package sessiontest provides a scripted in-memory Session for tests.
package sessiontest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/fidex/session"
)

// Call is one recorded command.
type Call struct {
	Method string
	Params json.RawMessage
}

// Fake records every Call and lets tests Emit events synchronously.
type Fake struct {
	mu      sync.Mutex
	calls   []Call
	subs    map[string][]*sub
	nextID  int
	replies map[string]func(params json.RawMessage) (any, error)
	closed  bool
}

type sub struct {
	id int
	fn func(session.Event)
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		subs:    make(map[string][]*sub),
		replies: make(map[string]func(json.RawMessage) (any, error)),
	}
}

// Reply scripts the result (marshalled to JSON) or error of method.
func (f *Fake) Reply(method string, fn func(params json.RawMessage) (any, error)) {
	f.mu.Lock()
	f.replies[method] = fn
	f.mu.Unlock()
}

// Close makes every later Call fail with session.ErrClosed.
func (f *Fake) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// Call implements proto.Client.
func (f *Fake) Call(_ context.Context, _ string, method string, params interface{}) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, session.ErrClosed
	}
	f.calls = append(f.calls, Call{Method: method, Params: raw})
	reply := f.replies[method]
	f.mu.Unlock()

	if reply == nil {
		return []byte("{}"), nil
	}
	res, err := reply(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

// Subscribe implements session.Session.
func (f *Fake) Subscribe(method string, fn func(session.Event)) func() {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subs[method] = append(f.subs[method], &sub{id: id, fn: fn})
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		list := f.subs[method]
		for i, s := range list {
			if s.id == id {
				f.subs[method] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Subscribers reports how many subscriptions exist for method.
func (f *Fake) Subscribers(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[method])
}

// Emit delivers params (any JSON-marshalable value, or raw JSON as a string
// or []byte) to the subscribers of method, synchronously.
func (f *Fake) Emit(method string, params any) {
	var raw json.RawMessage
	switch p := params.(type) {
	case string:
		raw = json.RawMessage(p)
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			panic(fmt.Sprintf("sessiontest: marshal %s: %v", method, err))
		}
		raw = b
	}

	f.mu.Lock()
	list := append([]*sub(nil), f.subs[method]...)
	f.mu.Unlock()

	ev := event{method: method, raw: raw}
	for _, s := range list {
		s.fn(ev)
	}
}

// EmitEvent marshals e and delivers it under its protocol name.
func (f *Fake) EmitEvent(e proto.Event) {
	f.Emit(e.ProtoEvent(), e)
}

// Calls returns a copy of every recorded command.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded commands named method.
func (f *Fake) CallsTo(method string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

type event struct {
	method string
	raw    json.RawMessage
}

func (e event) Method() string { return e.method }

func (e event) Decode(v proto.Event) error {
	if v.ProtoEvent() != e.method {
		return fmt.Errorf("sessiontest: decode %s into %s", e.method, v.ProtoEvent())
	}
	return json.Unmarshal(e.raw, v)
}
