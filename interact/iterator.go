// Package interact triggers inventory candidates one at a time, letting the
// page settle between dispatches.
package interact

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hazyhaar/fidex/inventory"
	"github.com/hazyhaar/fidex/session"
)

// Record describes one trigger. A zero Element marks a candidate that could
// not be resolved or dispatched.
type Record struct {
	Idx     int                `json:"idx"`
	Element inventory.Identity `json:"element,omitempty"`
	Path    inventory.Path     `json:"path,omitempty"`
	Events  []string           `json:"events,omitempty"`
	URL     string             `json:"url,omitempty"`
	Total   int                `json:"_verbose_length"`
}

// Empty reports whether the trigger failed.
func (r *Record) Empty() bool { return r.Element == "" }

// Options tunes an Iterator.
type Options struct {
	// Settle is waited after each dispatched event type. Default 300ms.
	Settle time.Duration
	// ElementSettle is waited after the last event of an element. Default 1s.
	ElementSettle time.Duration
	Sleep         Sleeper
	Rand          *rand.Rand
	Logger        *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.Settle <= 0 {
		o.Settle = 300 * time.Millisecond
	}
	if o.ElementSettle <= 0 {
		o.ElementSettle = time.Second
	}
	if o.Sleep == nil {
		o.Sleep = Sleep
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Iterator walks a fixed candidate list through a permutation. The list is
// never re-sorted; Shuffle only changes the permutation. A mutex serializes
// triggers so at most one is ever in flight.
type Iterator struct {
	doc   inventory.Document
	cands []inventory.Candidate
	opts  Options

	mu     sync.Mutex
	perm   []int
	cursor int
	err    error
}

// New returns an Iterator over cands with the identity permutation.
func New(doc inventory.Document, cands []inventory.Candidate, opts Options) *Iterator {
	opts.applyDefaults()
	perm := make([]int, len(cands))
	for i := range perm {
		perm[i] = i
	}
	return &Iterator{doc: doc, cands: cands, opts: opts, perm: perm}
}

// Len is the number of candidates.
func (it *Iterator) Len() int { return len(it.cands) }

// Cursor is the number of TriggerNext calls that consumed a candidate.
func (it *Iterator) Cursor() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.cursor
}

// Order returns a copy of the current permutation.
func (it *Iterator) Order() []int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return append([]int(nil), it.perm...)
}

// Err returns the protocol failure that stopped the iterator, if any.
func (it *Iterator) Err() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.err
}

// Reset rewinds the cursor.
func (it *Iterator) Reset() {
	it.mu.Lock()
	it.cursor = 0
	it.mu.Unlock()
}

// Shuffle replaces the permutation with a uniform random one (Fisher-Yates).
// The cursor is left where it is.
func (it *Iterator) Shuffle() {
	it.mu.Lock()
	defer it.mu.Unlock()
	for i := len(it.perm) - 1; i > 0; i-- {
		j := it.opts.Rand.IntN(i + 1)
		it.perm[i], it.perm[j] = it.perm[j], it.perm[i]
	}
}

// TriggerNext triggers the candidate under the cursor, waits for the page to
// settle and advances. It returns false once every candidate was consumed,
// when ctx is already done, or after a protocol failure (see Err). A
// candidate that fails to resolve or dispatch still advances the cursor and
// yields an empty record.
func (it *Iterator) TriggerNext(ctx context.Context) (*Record, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.err != nil || ctx.Err() != nil || it.cursor >= len(it.perm) {
		return nil, false
	}
	idx := it.perm[it.cursor]
	rec := it.trigger(ctx, idx, true)
	it.cursor++
	return rec, true
}

// TriggerNth triggers candidate idx without settle delays; the caller paces.
// Calling it twice for the same index dispatches twice.
func (it *Iterator) TriggerNth(ctx context.Context, idx int) (*Record, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.err != nil || ctx.Err() != nil || idx < 0 || idx >= len(it.cands) {
		return nil, false
	}
	return it.trigger(ctx, idx, false), true
}

// TriggerFirst triggers indices 0..min(limit, Len())-1 in order, without
// settle delays, and stops early if ctx is done.
func (it *Iterator) TriggerFirst(ctx context.Context, limit int) []*Record {
	n := min(limit, it.Len())
	out := make([]*Record, 0, max(n, 0))
	for i := 0; i < n; i++ {
		rec, ok := it.TriggerNth(ctx, i)
		if !ok {
			break
		}
		out = append(out, rec)
	}
	return out
}

func (it *Iterator) trigger(ctx context.Context, idx int, settle bool) *Record {
	log := it.opts.Logger
	c := it.cands[idx]
	empty := &Record{Idx: idx}

	cur, err := it.doc.Describe(ctx, c.Element)
	if err != nil {
		it.fail(err)
		log.Debug("interact: resolve failed", "idx", idx, "path", c.Element.Path, "error", err)
		return empty
	}

	types := inventory.FilterCancelPairs(c.Handlers.Types())
	fired := make([]string, 0, len(types))
	for _, typ := range types {
		if err := it.doc.Dispatch(ctx, cur, typ); err != nil {
			it.fail(err)
			log.Debug("interact: dispatch failed", "idx", idx, "type", typ, "error", err)
			return empty
		}
		fired = append(fired, typ)
		if settle {
			if err := it.opts.Sleep(ctx, it.opts.Settle); err != nil {
				return it.record(context.WithoutCancel(ctx), idx, cur, fired)
			}
		}
	}
	if settle {
		if err := it.opts.Sleep(ctx, it.opts.ElementSettle); err != nil {
			return it.record(context.WithoutCancel(ctx), idx, cur, fired)
		}
	}
	return it.record(ctx, idx, cur, fired)
}

// record describes a trigger whose events were sent. When the settle wait
// was cut short, events holds only the types dispatched so far.
func (it *Iterator) record(ctx context.Context, idx int, cur inventory.Element, events []string) *Record {
	rec := &Record{
		Idx:     idx,
		Element: cur.Identity(),
		Path:    it.cands[idx].Element.Path,
		Events:  events,
		Total:   len(it.cands),
	}
	if loc, err := it.doc.Location(ctx); err == nil {
		rec.URL = loc.String()
	} else {
		it.fail(err)
	}
	return rec
}

// fail latches protocol failures; everything else is per-candidate noise.
func (it *Iterator) fail(err error) {
	if errors.Is(err, session.ErrClosed) && it.err == nil {
		it.err = err
	}
}
