package inventory

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/hazyhaar/fidex/session"
)

//go:embed js/*.js
var scripts embed.FS

func script(name string) string {
	b, err := scripts.ReadFile("js/" + name)
	if err != nil {
		panic(fmt.Sprintf("inventory: missing embedded script %s: %v", name, err))
	}
	return string(b)
}

var (
	describeJS  = script("describe.js")
	dispatchJS  = script("dispatch.js")
	delegatedJS = script("delegated.js")
	hrefsJS     = script("hrefs.js")
	locationJS  = script("location.js")
)

// CDPOptions configures a CDPDocument.
type CDPOptions struct {
	// Frame scopes the document to the content document of one frame, e.g.
	// the frame an archive viewer replays the capture in. Empty means the
	// top-level document.
	Frame proto.PageFrameID
	// Contexts maps Frame to its execution context. Required when Frame is
	// set.
	Contexts *session.Contexts
	// ObjectGroup names the remote objects this document allocates so
	// Release can drop them in one call.
	ObjectGroup string
	Logger      *slog.Logger
}

// CDPDocument is a Document backed by DevTools protocol calls on a
// Session. Elements come from a full DOM.getDocument walk, listeners from
// DOMDebugger.getEventListeners, everything else from small embedded
// scripts run with Runtime.callFunctionOn.
type CDPDocument struct {
	s    session.Session
	opts CDPOptions
	log  *slog.Logger

	mu     sync.RWMutex
	root   proto.DOMNodeID
	byNode map[proto.DOMNodeID]Element
}

type cdpHandle struct {
	node    proto.DOMNodeID
	backend proto.DOMBackendNodeID
}

// NewCDPDocument returns a Document that talks to s.
func NewCDPDocument(s session.Session, opts CDPOptions) *CDPDocument {
	if opts.ObjectGroup == "" {
		opts.ObjectGroup = "fidex-inventory"
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &CDPDocument{s: s, opts: opts, log: log, byNode: make(map[proto.DOMNodeID]Element)}
}

func (d *CDPDocument) client(ctx context.Context) proto.Client {
	return session.WithContext(d.s, ctx)
}

func (d *CDPDocument) contextID() (proto.RuntimeExecutionContextID, error) {
	if d.opts.Frame == "" {
		return 0, nil
	}
	if d.opts.Contexts == nil {
		return 0, fmt.Errorf("inventory: frame %s set without a context registry", d.opts.Frame)
	}
	id, ok := d.opts.Contexts.Get(d.opts.Frame)
	if !ok {
		return 0, fmt.Errorf("inventory: no execution context for frame %s", d.opts.Frame)
	}
	return id, nil
}

// Elements walks the whole tree and returns every element node in document
// order with its positional path.
func (d *CDPDocument) Elements(ctx context.Context) ([]Element, error) {
	depth := -1
	res, err := proto.DOMGetDocument{Depth: &depth, Pierce: d.opts.Frame != ""}.Call(d.client(ctx))
	if err != nil {
		return nil, fmt.Errorf("DOM.getDocument: %w", err)
	}
	root := res.Root
	if d.opts.Frame != "" {
		root = findFrameDocument(res.Root, d.opts.Frame)
		if root == nil {
			return nil, fmt.Errorf("frame %s not in document", d.opts.Frame)
		}
	}

	w := walker{docURL: root.DocumentURL, byNode: make(map[proto.DOMNodeID]Element)}
	w.walk(root, "")

	if len(w.anchors) > 0 {
		if err := d.pageHrefs(ctx, &w); err != nil {
			if errors.Is(err, session.ErrClosed) {
				return nil, err
			}
			d.log.Debug("inventory: page hrefs unavailable, using attributes", "error", err)
		}
	}

	d.mu.Lock()
	d.root = root.NodeID
	d.byNode = w.byNode
	d.mu.Unlock()
	return w.out, nil
}

func findFrameDocument(n *proto.DOMNode, frame proto.PageFrameID) *proto.DOMNode {
	if n == nil {
		return nil
	}
	if n.FrameID == frame && n.ContentDocument != nil {
		return n.ContentDocument
	}
	for _, c := range n.Children {
		if found := findFrameDocument(c, frame); found != nil {
			return found
		}
	}
	return findFrameDocument(n.ContentDocument, frame)
}

type walker struct {
	docURL  string
	out     []Element
	byNode  map[proto.DOMNodeID]Element
	anchors []int // indexes into out
}

// walk assigns /tag[i] paths, i being the 1-based index among same-tag
// element siblings. Only element nodes are emitted; iframe content
// documents are not entered.
func (w *walker) walk(n *proto.DOMNode, parent string) {
	counts := make(map[string]int)
	for _, c := range n.Children {
		if c.NodeType != 1 {
			continue
		}
		name := strings.ToLower(c.NodeName)
		counts[name]++
		path := fmt.Sprintf("%s/%s[%d]", parent, name, counts[name])

		el := Element{
			Tag:    c.NodeName,
			ID:     attr(c, "id"),
			Class:  attr(c, "class"),
			Path:   Path(path),
			Handle: cdpHandle{node: c.NodeID, backend: c.BackendNodeID},
		}
		if c.NodeName == "A" || c.NodeName == "AREA" {
			el.Href = resolveHref(attr(c, "href"), c.BaseURL, w.docURL)
			w.anchors = append(w.anchors, len(w.out))
		}
		w.out = append(w.out, el)
		w.byNode[c.NodeID] = el
		w.walk(c, path)
	}
}

func attr(n *proto.DOMNode, name string) string {
	for i := 0; i+1 < len(n.Attributes); i += 2 {
		if n.Attributes[i] == name {
			return n.Attributes[i+1]
		}
	}
	return ""
}

func resolveHref(href, base, doc string) string {
	if href == "" {
		return ""
	}
	if base == "" {
		base = doc
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(u).String()
}

// pageHrefs replaces the attribute-resolved hrefs of w's anchors with the
// elements' href properties, which on a replayed capture report the
// original URLs rather than the rewritten attributes.
func (d *CDPDocument) pageHrefs(ctx context.Context, w *walker) error {
	res, err := d.callOn(ctx, Element{}, hrefsJS, true)
	if err != nil {
		return err
	}
	var hrefs []string
	if err := res.Value.Unmarshal(&hrefs); err != nil {
		return fmt.Errorf("anchor hrefs: %w", err)
	}
	if len(hrefs) != len(w.anchors) {
		return fmt.Errorf("anchor hrefs: page has %d anchors, walk found %d", len(hrefs), len(w.anchors))
	}
	for i, idx := range w.anchors {
		el := &w.out[idx]
		el.Href = hrefs[i]
		w.byNode[el.Handle.(cdpHandle).node] = *el
	}
	return nil
}

// resolve returns a remote object id for el, or for the document when el
// is the zero Element.
func (d *CDPDocument) resolve(ctx context.Context, el Element) (proto.RuntimeRemoteObjectID, error) {
	cid, err := d.contextID()
	if err != nil {
		return "", err
	}
	if el.Handle == nil {
		res, err := proto.RuntimeEvaluate{
			Expression:  "document",
			ContextID:   cid,
			ObjectGroup: d.opts.ObjectGroup,
		}.Call(d.client(ctx))
		if err != nil {
			return "", fmt.Errorf("evaluate document: %w", err)
		}
		if res.Result == nil || res.Result.ObjectID == "" {
			return "", errors.New("evaluate document: no object")
		}
		return res.Result.ObjectID, nil
	}

	h, ok := el.Handle.(cdpHandle)
	if !ok {
		return "", fmt.Errorf("foreign element handle %T", el.Handle)
	}
	res, err := proto.DOMResolveNode{
		BackendNodeID:      h.backend,
		ObjectGroup:        d.opts.ObjectGroup,
		ExecutionContextID: cid,
	}.Call(d.client(ctx))
	if err != nil {
		if errors.Is(err, session.ErrClosed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %s: %v", ErrDetached, el.Path, err)
	}
	if res.Object == nil || res.Object.ObjectID == "" {
		return "", fmt.Errorf("%w: %s", ErrDetached, el.Path)
	}
	return res.Object.ObjectID, nil
}

// Listeners returns the native listeners of el. The handler description
// (its source text) is the listener's Source.
func (d *CDPDocument) Listeners(ctx context.Context, el Element) ([]Listener, error) {
	obj, err := d.resolve(ctx, el)
	if err != nil {
		return nil, err
	}
	res, err := proto.DOMDebuggerGetEventListeners{ObjectID: obj}.Call(d.client(ctx))
	if err != nil {
		return nil, fmt.Errorf("DOMDebugger.getEventListeners: %w", err)
	}
	out := make([]Listener, 0, len(res.Listeners))
	for _, l := range res.Listeners {
		out = append(out, Listener{Type: l.Type, Source: handlerSource(l)})
	}
	return out, nil
}

func handlerSource(l *proto.DOMDebuggerEventListener) string {
	if l.Handler != nil && l.Handler.Description != "" {
		return l.Handler.Description
	}
	return fmt.Sprintf("%s:%d:%d", l.ScriptID, l.LineNumber, l.ColumnNumber)
}

// Location reads the location the page believes it is at. Archived copies
// served through a wombat-style rewriter expose the original URL as
// WB_wombat_location, which is preferred when present.
func (d *CDPDocument) Location(ctx context.Context) (*url.URL, error) {
	cid, err := d.contextID()
	if err != nil {
		return nil, err
	}
	res, err := proto.RuntimeEvaluate{
		Expression:    locationJS,
		ContextID:     cid,
		ReturnByValue: true,
	}.Call(d.client(ctx))
	if err != nil {
		return nil, fmt.Errorf("evaluate location: %w", err)
	}
	if res.ExceptionDetails != nil {
		return nil, fmt.Errorf("evaluate location: %s", res.ExceptionDetails.Text)
	}
	if res.Result == nil || res.Result.Value.Nil() {
		return nil, errors.New("evaluate location: empty result")
	}
	return url.Parse(res.Result.Value.Str())
}

type described struct {
	Tag       string `json:"tag"`
	ID        string `json:"id"`
	ClassName string `json:"className"`
	Href      string `json:"href"`
	Connected bool   `json:"connected"`
}

// Describe re-reads el's fields from the live node. The path stays the one
// recorded at inventory time.
func (d *CDPDocument) Describe(ctx context.Context, el Element) (Element, error) {
	res, err := d.callOn(ctx, el, describeJS, true)
	if err != nil {
		return Element{}, err
	}
	var v described
	if err := res.Value.Unmarshal(&v); err != nil {
		return Element{}, fmt.Errorf("describe %s: %w", el.Path, err)
	}
	if !v.Connected {
		return Element{}, fmt.Errorf("%w: %s", ErrDetached, el.Path)
	}
	return Element{
		Tag:    v.Tag,
		ID:     v.ID,
		Class:  v.ClassName,
		Href:   v.Href,
		Path:   el.Path,
		Handle: el.Handle,
	}, nil
}

// Dispatch fires typ at el. Click goes through el.click(); every other type
// is a bubbling, cancelable Event sent to el and each of its descendants.
func (d *CDPDocument) Dispatch(ctx context.Context, el Element, typ string) error {
	_, err := d.callOn(ctx, el, dispatchJS, true, gson.New(typ))
	return err
}

func (d *CDPDocument) callOn(ctx context.Context, el Element, fn string, byValue bool, args ...gson.JSON) (*proto.RuntimeRemoteObject, error) {
	obj, err := d.resolve(ctx, el)
	if err != nil {
		return nil, err
	}
	call := proto.RuntimeCallFunctionOn{
		FunctionDeclaration: fn,
		ObjectID:            obj,
		ReturnByValue:       byValue,
		UserGesture:         true,
		ObjectGroup:         d.opts.ObjectGroup,
	}
	for _, a := range args {
		call.Arguments = append(call.Arguments, &proto.RuntimeCallArgument{Value: a})
	}
	res, err := call.Call(d.client(ctx))
	if err != nil {
		return nil, fmt.Errorf("Runtime.callFunctionOn: %w", err)
	}
	if res.ExceptionDetails != nil {
		return nil, fmt.Errorf("page exception: %s", exceptionText(res.ExceptionDetails))
	}
	if res.Result == nil {
		return nil, errors.New("Runtime.callFunctionOn: empty result")
	}
	return res.Result, nil
}

func exceptionText(e *proto.RuntimeExceptionDetails) string {
	if e.Exception != nil && e.Exception.Description != "" {
		return e.Exception.Description
	}
	return e.Text
}

type delegatedEntry struct {
	Type     string `json:"type"`
	Selector string `json:"selector"`
	Source   string `json:"source"`
}

// DelegatedHandlers reads jQuery's per-element event registry on el (or the
// document for the zero Element) and maps every delegated selector back to
// the elements it matches below el. Elements must have been called first.
func (d *CDPDocument) DelegatedHandlers(ctx context.Context, el Element) ([]Delegated, error) {
	res, err := d.callOn(ctx, el, delegatedJS, true)
	if err != nil {
		return nil, err
	}
	var entries []delegatedEntry
	if !res.Value.Nil() {
		if err := res.Value.Unmarshal(&entries); err != nil {
			return nil, fmt.Errorf("delegated registry: %w", err)
		}
	}
	if len(entries) == 0 {
		return nil, nil
	}

	d.mu.RLock()
	scope := d.root
	if h, ok := el.Handle.(cdpHandle); ok {
		scope = h.node
	}
	d.mu.RUnlock()

	var out []Delegated
	for _, e := range entries {
		q, err := proto.DOMQuerySelectorAll{NodeID: scope, Selector: e.Selector}.Call(d.client(ctx))
		if err != nil {
			d.log.Debug("inventory: delegated selector rejected", "selector", e.Selector, "error", err)
			continue
		}
		d.mu.RLock()
		for _, id := range q.NodeIDs {
			target, ok := d.byNode[id]
			if !ok {
				continue
			}
			out = append(out, Delegated{Target: target, Listener: Listener{Type: e.Type, Source: e.Source}})
		}
		d.mu.RUnlock()
	}
	return out, nil
}

// Release frees every remote object allocated by this document.
func (d *CDPDocument) Release(ctx context.Context) error {
	return proto.RuntimeReleaseObjectGroup{ObjectGroup: d.opts.ObjectGroup}.Call(d.client(ctx))
}
