package inventory

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

// ErrDetached is returned by Document.Describe when the element is no
// longer attached to the document.
var ErrDetached = errors.New("inventory: element detached")

// Path is a root-to-node positional address: tag plus 1-based index among
// same-tag siblings at every level, e.g. /html[1]/body[1]/div[3]. It is
// recomputed on every inventory build because later triggers can shift it.
type Path string

// Identity is a lookup label built from tag, id, class and href. It is
// recomputed whenever needed and never used as a handle.
type Identity string

// IdentityOf builds the label for an element. Anchors with an href carry it
// in brackets so two links with the same classes stay apart.
func IdentityOf(tag, id, class, href string) Identity {
	var b strings.Builder
	b.WriteString(tag)
	if id != "" {
		b.WriteString("#")
		b.WriteString(id)
	}
	if class != "" {
		b.WriteString(".")
		b.WriteString(strings.ReplaceAll(class, " ", "."))
	}
	if tag == "A" && href != "" {
		b.WriteString(`[href="`)
		b.WriteString(href)
		b.WriteString(`"]`)
	}
	return Identity(b.String())
}

// Element is one node of the current document as seen by a Document.
type Element struct {
	Tag   string // nodeName, upper-case for HTML elements
	ID    string
	Class string
	// Href is the resolved destination of anchor-like elements; empty when
	// the element has no href.
	Href string
	Path Path
	// Handle is owned by the Document that produced the element.
	Handle any
}

// Identity returns the element's label.
func (e Element) Identity() Identity {
	return IdentityOf(e.Tag, e.ID, e.Class, e.Href)
}

// Listener is one handler attached to an element.
type Listener struct {
	Type string
	// Source is the handler's source text; it is the dedup key for handler
	// ids.
	Source string
}

// Document is the current interactive surface: the live page, or the frame
// of an archive viewer that holds the replayed page.
type Document interface {
	// Elements returns every element in document traversal order.
	Elements(ctx context.Context) ([]Element, error)
	// Listeners returns the handlers attached directly to el.
	Listeners(ctx context.Context, el Element) ([]Listener, error)
	// Location returns the URL the page believes it is at.
	Location(ctx context.Context) (*url.URL, error)
	// Describe re-resolves el and returns its current fields. It fails with
	// ErrDetached when el has been removed.
	Describe(ctx context.Context, el Element) (Element, error)
	// Dispatch fires one event of type typ at el. Click uses native
	// activation so built-in element behaviour runs too.
	Dispatch(ctx context.Context, el Element, typ string) error
}

// Delegated is one handler a delegation library registered on behalf of
// Target.
type Delegated struct {
	Target Element
	Listener
}

// DelegationProber is an optional Document capability: reading a
// delegation library's internal registry. The zero Element stands for the
// document node itself. Any error is treated as "no delegated handlers".
type DelegationProber interface {
	DelegatedHandlers(ctx context.Context, el Element) ([]Delegated, error)
}
