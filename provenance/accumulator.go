package provenance

import "sync"

// Bucket is every payload seen under one stack signature.
type Bucket struct {
	StackInfo []Segment
	Payloads  []string
}

// Accumulator maps stack signature to an ordered payload list. Buckets keep
// first-seen order. It is safe for use from event callbacks while another
// goroutine reads it.
type Accumulator struct {
	mu      sync.Mutex
	order   []string
	buckets map[string]*Bucket
}

// Add appends payload to the bucket for segs.
func (a *Accumulator) Add(segs []Segment, payload string) {
	key := Signature(segs)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.buckets == nil {
		a.buckets = make(map[string]*Bucket)
	}
	b, ok := a.buckets[key]
	if !ok {
		b = &Bucket{StackInfo: segs}
		a.buckets[key] = b
		a.order = append(a.order, key)
	}
	b.Payloads = append(b.Payloads, payload)
}

// Len is the number of distinct signatures.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.order)
}

// Buckets returns a snapshot in first-seen order.
func (a *Accumulator) Buckets() []Bucket {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Bucket, 0, len(a.order))
	for _, k := range a.order {
		b := a.buckets[k]
		out = append(out, Bucket{StackInfo: b.StackInfo, Payloads: append([]string(nil), b.Payloads...)})
	}
	return out
}
