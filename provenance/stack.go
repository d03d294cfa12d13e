// Package provenance ties asynchronous page side effects (requests, state
// writes, exceptions, failed fetches) back to the call stacks and stages
// that produced them.
//
// Grouping is by exact signature: two stacks land in one bucket only when
// their canonical serializations are byte-identical. A stack that differs
// by a single line number is a different bucket.
package provenance

import (
	"encoding/json"

	"github.com/go-rod/rod/lib/proto"
)

// Frame is one call frame. Line and column are 0-based.
type Frame struct {
	FunctionName string `json:"functionName"`
	URL          string `json:"url"`
	LineNumber   int    `json:"lineNumber"`
	ColumnNumber int    `json:"columnNumber"`
}

// Segment is one synchronous run of frames; async parents follow as
// further segments.
type Segment struct {
	Description string  `json:"description,omitempty"`
	CallFrames  []Frame `json:"callFrames"`
}

// Segments flattens st and its async parents, innermost first.
func Segments(st *proto.RuntimeStackTrace) []Segment {
	out := make([]Segment, 0, 1)
	for ; st != nil; st = st.Parent {
		seg := Segment{Description: st.Description, CallFrames: make([]Frame, 0, len(st.CallFrames))}
		for _, f := range st.CallFrames {
			if f == nil {
				continue
			}
			seg.CallFrames = append(seg.CallFrames, Frame{
				FunctionName: f.FunctionName,
				URL:          f.URL,
				LineNumber:   f.LineNumber,
				ColumnNumber: f.ColumnNumber,
			})
		}
		out = append(out, seg)
	}
	return out
}

// Signature returns the canonical serialization of segs, the grouping key.
func Signature(segs []Segment) string {
	if segs == nil {
		segs = []Segment{}
	}
	b, err := json.Marshal(segs)
	if err != nil {
		// Segments only hold strings and ints.
		panic(err)
	}
	return string(b)
}

// bottomFrame is the outermost frame of the outermost segment.
func bottomFrame(segs []Segment) (Frame, bool) {
	if len(segs) == 0 {
		return Frame{}, false
	}
	last := segs[len(segs)-1].CallFrames
	if len(last) == 0 {
		return Frame{}, false
	}
	return last[len(last)-1], true
}
