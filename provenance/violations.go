package provenance

import (
	"regexp"
	"sync"

	"github.com/go-rod/rod/lib/proto"
)

// Violation is an invariant failure reported by an instrumented page
// through a console message starting with "Fidex ".
type Violation struct {
	TS          float64   `json:"ts"`
	Description string    `json:"description"`
	ScriptURL   string    `json:"scriptURL"`
	Line        int       `json:"line"`
	Column      int       `json:"column"`
	Stack       []Segment `json:"stack"`
}

var violationRe = regexp.MustCompile(`^Fidex .*`)

// Violations collects invariant violations for the whole session.
type Violations struct {
	mu   sync.Mutex
	list []Violation
}

// OnConsole records e when its first argument is a violation message.
func (v *Violations) OnConsole(e *proto.RuntimeConsoleAPICalled) {
	msg, ok := firstString(e.Args)
	if !ok || !violationRe.MatchString(msg) {
		return
	}
	vi := Violation{TS: float64(e.Timestamp), Description: msg, Stack: nonNil(Segments(e.StackTrace))}
	if e.StackTrace != nil && len(e.StackTrace.CallFrames) > 0 && e.StackTrace.CallFrames[0] != nil {
		top := e.StackTrace.CallFrames[0]
		vi.ScriptURL, vi.Line, vi.Column = top.URL, top.LineNumber, top.ColumnNumber
	}
	v.mu.Lock()
	v.list = append(v.list, vi)
	v.mu.Unlock()
}

// List returns the violations in arrival order.
func (v *Violations) List() []Violation {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Violation{}, v.list...)
}
