package provenance

import "github.com/go-rod/rod/lib/proto"

// RequestStack is one entry of requestStacks.json.
type RequestStack struct {
	StackInfo []Segment `json:"stackInfo"`
	URLs      []string  `json:"urls"`
}

// Requests groups outgoing request URLs by initiator stack. It is never
// reset.
type Requests struct {
	acc Accumulator
}

// OnRequest records e. When the protocol reports the immediate call site
// separately (initiator url/line/column), it becomes an "initiator" segment
// on top of the async stack.
func (r *Requests) OnRequest(e *proto.NetworkRequestWillBeSent) {
	if e.Request == nil {
		return
	}
	var segs []Segment
	if e.Initiator != nil {
		segs = Segments(e.Initiator.Stack)
		if e.Initiator.URL != "" {
			top := Segment{
				Description: "initiator",
				CallFrames: []Frame{{
					URL:          e.Initiator.URL,
					LineNumber:   intOf(e.Initiator.LineNumber),
					ColumnNumber: intOf(e.Initiator.ColumnNumber),
				}},
			}
			segs = append([]Segment{top}, segs...)
		}
	}
	r.acc.Add(segs, e.Request.URL)
}

func intOf(f *float64) int {
	if f == nil {
		return 0
	}
	return int(*f)
}

// Len is the number of distinct initiator stacks.
func (r *Requests) Len() int { return r.acc.Len() }

// List returns the buckets in first-seen order.
func (r *Requests) List() []RequestStack {
	bs := r.acc.Buckets()
	out := make([]RequestStack, 0, len(bs))
	for _, b := range bs {
		out = append(out, RequestStack{StackInfo: nonNil(b.StackInfo), URLs: b.Payloads})
	}
	return out
}

func nonNil(s []Segment) []Segment {
	if s == nil {
		return []Segment{}
	}
	return s
}
