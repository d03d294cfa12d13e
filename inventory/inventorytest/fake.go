// Package inventorytest provides an in-memory Document for tests.
package inventorytest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/hazyhaar/fidex/inventory"
)

// Dispatch is one recorded Dispatch call.
type Dispatch struct {
	Path inventory.Path
	Type string
}

// Document is a scripted inventory.Document. Elements are returned in the
// order they were added.
type Document struct {
	mu        sync.Mutex
	loc       *url.URL
	elems     []inventory.Element
	listeners map[inventory.Path][]inventory.Listener
	delegated map[inventory.Path][]inventory.Delegated
	detached  map[inventory.Path]bool
	failing   map[inventory.Path]error
	dispatch  []Dispatch

	// OnDispatch, when set, runs after every successful Dispatch.
	OnDispatch func(el inventory.Element, typ string)
}

// New returns an empty document located at rawURL.
func New(rawURL string) *Document {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return &Document{
		loc:       u,
		listeners: make(map[inventory.Path][]inventory.Listener),
		delegated: make(map[inventory.Path][]inventory.Delegated),
		detached:  make(map[inventory.Path]bool),
		failing:   make(map[inventory.Path]error),
	}
}

// Add appends an element with native listeners given as type/source pairs.
func (d *Document) Add(el inventory.Element, typeSource ...string) *Document {
	if len(typeSource)%2 != 0 {
		panic("inventorytest: odd type/source list")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elems = append(d.elems, el)
	for i := 0; i < len(typeSource); i += 2 {
		d.listeners[el.Path] = append(d.listeners[el.Path], inventory.Listener{Type: typeSource[i], Source: typeSource[i+1]})
	}
	return d
}

// Delegate registers a delegated handler found when probing owner (the
// empty path stands for the document).
func (d *Document) Delegate(owner inventory.Path, target inventory.Element, typ, source string) *Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delegated[owner] = append(d.delegated[owner], inventory.Delegated{
		Target:   target,
		Listener: inventory.Listener{Type: typ, Source: source},
	})
	return d
}

// Detach makes Describe fail with ErrDetached for path.
func (d *Document) Detach(path inventory.Path) {
	d.mu.Lock()
	d.detached[path] = true
	d.mu.Unlock()
}

// FailDispatch makes every Dispatch on path return err.
func (d *Document) FailDispatch(path inventory.Path, err error) {
	d.mu.Lock()
	d.failing[path] = err
	d.mu.Unlock()
}

// Dispatched returns every Dispatch call so far.
func (d *Document) Dispatched() []Dispatch {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Dispatch(nil), d.dispatch...)
}

func (d *Document) Elements(context.Context) ([]inventory.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]inventory.Element(nil), d.elems...), nil
}

func (d *Document) Listeners(_ context.Context, el inventory.Element) ([]inventory.Listener, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]inventory.Listener(nil), d.listeners[el.Path]...), nil
}

func (d *Document) Location(context.Context) (*url.URL, error) {
	u := *d.loc
	return &u, nil
}

func (d *Document) Describe(_ context.Context, el inventory.Element) (inventory.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.detached[el.Path] {
		return inventory.Element{}, fmt.Errorf("%w: %s", inventory.ErrDetached, el.Path)
	}
	for _, e := range d.elems {
		if e.Path == el.Path {
			return e, nil
		}
	}
	return inventory.Element{}, fmt.Errorf("%w: %s", inventory.ErrDetached, el.Path)
}

func (d *Document) Dispatch(ctx context.Context, el inventory.Element, typ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	if err := d.failing[el.Path]; err != nil {
		d.mu.Unlock()
		return err
	}
	d.dispatch = append(d.dispatch, Dispatch{Path: el.Path, Type: typ})
	hook := d.OnDispatch
	d.mu.Unlock()
	if hook != nil {
		hook(el, typ)
	}
	return nil
}

// ErrNoJQuery is what DelegatedHandlers returns when nothing was delegated,
// mirroring a page without the delegation library.
var ErrNoJQuery = errors.New("inventorytest: no delegation registry")

func (d *Document) DelegatedHandlers(_ context.Context, el inventory.Element) ([]inventory.Delegated, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ds, ok := d.delegated[el.Path]
	if !ok {
		return nil, ErrNoJQuery
	}
	return append([]inventory.Delegated(nil), ds...), nil
}
