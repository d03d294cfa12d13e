package inventory

import (
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerRegistry numbers handler functions by exact source text. Two
// closures with identical source share an id even if their captured state
// differs. Ids are only stable within one registry, i.e. one run.
type HandlerRegistry struct {
	mu    sync.Mutex
	ids   map[string]string
	count int
}

// NewHandlerRegistry returns an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{ids: make(map[string]string)}
}

// ID returns the id for source, allocating "<n>: <first 50 chars>" on first
// sight.
func (r *HandlerRegistry) ID(source string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[source]; ok {
		return id
	}
	id := fmt.Sprintf("%d: %s", r.count, prefix(source, 50))
	r.ids[source] = id
	r.count++
	return id
}

// Len reports how many distinct handlers were seen.
func (r *HandlerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func prefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// HandlerSet maps event type to handler ids, remembering the order in which
// types were first added so dispatch order is reproducible.
type HandlerSet struct {
	order []string
	ids   map[string][]string
}

// Add records id under typ.
func (h *HandlerSet) Add(typ, id string) {
	if h.ids == nil {
		h.ids = make(map[string][]string)
	}
	if _, ok := h.ids[typ]; !ok {
		h.order = append(h.order, typ)
	}
	h.ids[typ] = append(h.ids[typ], id)
}

// Types returns the event types in first-added order.
func (h HandlerSet) Types() []string {
	return append([]string(nil), h.order...)
}

// IDs returns the handler ids registered for typ.
func (h HandlerSet) IDs(typ string) []string { return h.ids[typ] }

// Len is the number of event types.
func (h HandlerSet) Len() int { return len(h.order) }

// MarshalJSON writes the set as an object in first-added type order.
func (h HandlerSet) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, typ := range h.order {
		if i > 0 {
			buf = append(buf, ',')
		}
		k, err := json.Marshal(typ)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(h.ids[typ])
		if err != nil {
			return nil, err
		}
		buf = append(buf, k...)
		buf = append(buf, ':')
		buf = append(buf, v...)
	}
	return append(buf, '}'), nil
}
