package session

import (
	"sync"

	"github.com/go-rod/rod/lib/proto"
)

// Contexts tracks the default execution context of every frame, fed by
// Runtime.executionContextCreated. Evaluations that must run inside a
// specific frame (archived copies are often served inside an iframe) look
// the context id up here.
type Contexts struct {
	mu   sync.RWMutex
	byID map[proto.PageFrameID]proto.RuntimeExecutionContextID

	cancels []func()
}

// NewContexts returns an empty registry.
func NewContexts() *Contexts {
	return &Contexts{byID: make(map[proto.PageFrameID]proto.RuntimeExecutionContextID)}
}

// Attach subscribes the registry to s.
func (c *Contexts) Attach(s Session) {
	c.cancels = append(c.cancels,
		On(s, func() *proto.RuntimeExecutionContextCreated { return &proto.RuntimeExecutionContextCreated{} },
			c.onCreated),
		On(s, func() *proto.RuntimeExecutionContextsCleared { return &proto.RuntimeExecutionContextsCleared{} },
			func(*proto.RuntimeExecutionContextsCleared) { c.clear() }),
	)
}

// Detach removes the subscriptions installed by Attach.
func (c *Contexts) Detach() {
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = nil
}

// Get returns the default context of frame, if one was seen.
func (c *Contexts) Get(frame proto.PageFrameID) (proto.RuntimeExecutionContextID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byID[frame]
	return id, ok
}

// Len reports how many frames have a known default context.
func (c *Contexts) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

func (c *Contexts) onCreated(e *proto.RuntimeExecutionContextCreated) {
	if e.Context == nil || e.Context.AuxData == nil {
		return
	}
	frame, ok := e.Context.AuxData["frameId"]
	if !ok || frame.Nil() {
		return
	}
	isDefault, ok := e.Context.AuxData["isDefault"]
	if !ok || !isDefault.Bool() {
		return
	}
	c.mu.Lock()
	c.byID[proto.PageFrameID(frame.Str())] = e.Context.ID
	c.mu.Unlock()
}

func (c *Contexts) clear() {
	c.mu.Lock()
	c.byID = make(map[proto.PageFrameID]proto.RuntimeExecutionContextID)
	c.mu.Unlock()
}
