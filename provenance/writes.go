package provenance

import (
	"regexp"
	"strings"

	"github.com/go-rod/rod/lib/proto"
)

// WriteStack is one entry of writeStacks.json.
type WriteStack struct {
	StackInfo []Segment `json:"stackInfo"`
	WIDs      []string  `json:"wids"`
}

var widRe = regexp.MustCompile(`^wid (.*)`)

// WriteID extracts the id from an instrumentation marker such as "wid 42".
func WriteID(msg string) (string, bool) {
	m := widRe.FindStringSubmatch(msg)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Writes groups instrumented state-write ids by call stack. Instrumented
// pages report each write as a console warning "wid <id>". It is never
// reset.
type Writes struct {
	acc Accumulator
	// NoisePrefixes are script URL prefixes of the instrumentation itself.
	// A stack whose bottom-most frame lives under one of them is dropped.
	NoisePrefixes []string
}

// OnConsole records e when it is a write marker.
func (w *Writes) OnConsole(e *proto.RuntimeConsoleAPICalled) {
	if e.Type != proto.RuntimeConsoleAPICalledTypeWarning {
		return
	}
	msg, ok := firstString(e.Args)
	if !ok {
		return
	}
	wid, ok := WriteID(msg)
	if !ok {
		return
	}
	segs := Segments(e.StackTrace)
	if w.selfNoise(segs) {
		return
	}
	w.acc.Add(segs, wid)
}

func (w *Writes) selfNoise(segs []Segment) bool {
	f, ok := bottomFrame(segs)
	if !ok {
		return false
	}
	for _, p := range w.NoisePrefixes {
		if strings.HasPrefix(f.URL, p) {
			return true
		}
	}
	return false
}

// Len is the number of distinct write stacks.
func (w *Writes) Len() int { return w.acc.Len() }

// List returns the buckets in first-seen order.
func (w *Writes) List() []WriteStack {
	bs := w.acc.Buckets()
	out := make([]WriteStack, 0, len(bs))
	for _, b := range bs {
		out = append(out, WriteStack{StackInfo: nonNil(b.StackInfo), WIDs: b.Payloads})
	}
	return out
}

// firstString returns the first console argument when it is a string value.
func firstString(args []*proto.RuntimeRemoteObject) (string, bool) {
	if len(args) == 0 || args[0] == nil || args[0].Type != proto.RuntimeRemoteObjectTypeString {
		return "", false
	}
	if args[0].Value.Nil() {
		return "", false
	}
	return args[0].Value.Str(), true
}
