// Package inventory enumerates the elements of a page that carry event
// handlers and filters them down to the candidates worth triggering.
//
// Native listeners and handlers found in a delegation library's registry
// are merged per structural path, so an element reachable through both
// sources is counted once. The resulting order is document traversal order
// and never changes afterwards, even if triggering mutates the page.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Entry is one element of the raw inventory with every handler found on it.
type Entry struct {
	Element   Element
	Listeners []Listener
}

// Types returns the distinct handler types of the entry in first-seen order.
func (e Entry) Types() []string {
	seen := make(map[string]bool, len(e.Listeners))
	var out []string
	for _, l := range e.Listeners {
		if !seen[l.Type] {
			seen[l.Type] = true
			out = append(out, l.Type)
		}
	}
	return out
}

// Candidate is an element that survived relevance filtering.
type Candidate struct {
	Element  Element
	Handlers HandlerSet
}

// Options tunes Build.
type Options struct {
	// Grouping keeps only the first candidate per class attribute string.
	Grouping bool
	Logger   *slog.Logger
}

// Inventory is the result of one build against one page load.
type Inventory struct {
	Entries    []Entry
	Candidates []Candidate
	Location   *url.URL
	Registry   *HandlerRegistry
}

// Build walks doc once and returns the raw entries and the filtered
// candidates. Listener and delegation lookups that fail for a single element
// are skipped; only failing to list elements or read the location is fatal.
func Build(ctx context.Context, doc Document, opts Options) (*Inventory, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	elems, err := doc.Elements(ctx)
	if err != nil {
		return nil, fmt.Errorf("inventory: list elements: %w", err)
	}
	loc, err := doc.Location(ctx)
	if err != nil {
		return nil, fmt.Errorf("inventory: location: %w", err)
	}

	prober, _ := doc.(DelegationProber)
	m := newMerger()

	for _, el := range elems {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ls, err := doc.Listeners(ctx, el)
		if err != nil {
			log.Debug("inventory: listeners lookup failed", "path", el.Path, "error", err)
		} else if len(ls) > 0 {
			m.add(el, ls)
		}
		if prober != nil {
			m.addDelegated(probe(ctx, prober, el, log))
		}
	}
	if prober != nil {
		m.addDelegated(probe(ctx, prober, Element{}, log))
	}

	reg := NewHandlerRegistry()
	inv := &Inventory{
		Entries:  m.entries(),
		Location: loc,
		Registry: reg,
	}
	inv.Candidates = Candidates(inv.Entries, loc, reg, opts.Grouping)

	log.Info("inventory: built",
		"elements", len(elems),
		"entries", len(inv.Entries),
		"candidates", len(inv.Candidates),
		"handlers", reg.Len())
	return inv, nil
}

// probe calls the delegation capability and fails closed.
func probe(ctx context.Context, p DelegationProber, el Element, log *slog.Logger) []Delegated {
	ds, err := p.DelegatedHandlers(ctx, el)
	if err != nil {
		log.Debug("inventory: delegation probe failed", "path", el.Path, "error", err)
		return nil
	}
	out := ds[:0]
	for _, d := range ds {
		if Allowed(d.Type) {
			out = append(out, d)
		}
	}
	return out
}

// merger unions listeners per structural path, keeping first-insertion
// order of paths.
type merger struct {
	order  []Path
	byPath map[Path]*Entry
	seen   map[Path]map[Listener]bool
}

func newMerger() *merger {
	return &merger{
		byPath: make(map[Path]*Entry),
		seen:   make(map[Path]map[Listener]bool),
	}
}

func (m *merger) add(el Element, ls []Listener) {
	e, ok := m.byPath[el.Path]
	if !ok {
		e = &Entry{Element: el}
		m.byPath[el.Path] = e
		m.seen[el.Path] = make(map[Listener]bool)
		m.order = append(m.order, el.Path)
	}
	seen := m.seen[el.Path]
	for _, l := range ls {
		if seen[l] {
			continue
		}
		seen[l] = true
		e.Listeners = append(e.Listeners, l)
	}
}

func (m *merger) addDelegated(ds []Delegated) {
	for _, d := range ds {
		m.add(d.Target, []Listener{d.Listener})
	}
}

func (m *merger) entries() []Entry {
	out := make([]Entry, 0, len(m.order))
	for _, p := range m.order {
		out = append(out, *m.byPath[p])
	}
	return out
}

// Candidates applies the relevance filter to entries:
//   - tags in the ignore set are dropped;
//   - anchor-like elements whose destination (origin, path, query) differs
//     from loc are dropped, fragment-only differences are kept;
//   - handler types are restricted to the allow-list and the element is
//     dropped if none survive.
//
// With grouping, only the first candidate per class string is kept.
func Candidates(entries []Entry, loc *url.URL, reg *HandlerRegistry, grouping bool) []Candidate {
	var out []Candidate
	groups := make(map[string]bool)

	for _, e := range entries {
		el := e.Element
		if ignoredTags[el.Tag] {
			continue
		}
		if el.Href != "" && !sameDocument(el.Href, loc) {
			continue
		}

		var hs HandlerSet
		for _, l := range e.Listeners {
			if Allowed(l.Type) {
				hs.Add(l.Type, reg.ID(l.Source))
			}
		}
		if hs.Len() == 0 {
			continue
		}

		if grouping {
			if groups[el.Class] {
				continue
			}
			groups[el.Class] = true
		}
		out = append(out, Candidate{Element: el, Handlers: hs})
	}
	return out
}

// sameDocument reports whether href points at the page at loc, ignoring the
// fragment. Unparsable hrefs never match.
func sameDocument(href string, loc *url.URL) bool {
	u, err := url.Parse(href)
	if err != nil || loc == nil {
		return false
	}
	if loc.IsAbs() && !u.IsAbs() {
		u = loc.ResolveReference(u)
	}
	return strings.EqualFold(u.Scheme, loc.Scheme) &&
		strings.EqualFold(u.Host, loc.Host) &&
		pathOf(u) == pathOf(loc) &&
		u.RawQuery == loc.RawQuery
}

func pathOf(u *url.URL) string {
	if p := u.EscapedPath(); p != "" {
		return p
	}
	return "/"
}
