package triage

import "github.com/you/chatminder/internal/core"

// traceRing keeps the most recent pipeline outcomes for the status endpoint.
// It is confined to the manager goroutine; snapshots travel out by copy.
type traceRing struct {
	buf  []core.Outcome
	next int
	full bool
}

func newTraceRing(capacity int) *traceRing {
	if capacity <= 0 {
		capacity = 256
	}
	return &traceRing{buf: make([]core.Outcome, capacity)}
}

func (r *traceRing) add(o core.Outcome) {
	r.buf[r.next] = o
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// recent returns outcomes oldest-first.
func (r *traceRing) recent() []core.Outcome {
	if !r.full {
		return append([]core.Outcome(nil), r.buf[:r.next]...)
	}
	out := make([]core.Outcome, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}
