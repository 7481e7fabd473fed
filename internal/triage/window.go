package triage

import "time"

// dispatchWindow enforces the two outbound limits together: a sliding
// per-minute cap and a minimum gap since the last dispatch.
type dispatchWindow struct {
	max    int
	span   time.Duration
	minGap time.Duration

	sent []time.Time
	last time.Time
}

func newDispatchWindow(max int, span, minGap time.Duration) *dispatchWindow {
	return &dispatchWindow{max: max, span: span, minGap: minGap}
}

// allow reports whether a dispatch may happen now, and the limiting
// constraint when it may not.
func (w *dispatchWindow) allow(now time.Time) (bool, string) {
	w.prune(now)
	if w.max > 0 && len(w.sent) >= w.max {
		return false, "window_full"
	}
	if w.minGap > 0 && !w.last.IsZero() && now.Sub(w.last) < w.minGap {
		return false, "min_gap"
	}
	return true, ""
}

// note records a dispatch.
func (w *dispatchWindow) note(now time.Time) {
	w.prune(now)
	w.sent = append(w.sent, now)
	w.last = now
}

func (w *dispatchWindow) usage(now time.Time) (int, int) {
	w.prune(now)
	return len(w.sent), w.max
}

func (w *dispatchWindow) lastDispatch() time.Time { return w.last }

func (w *dispatchWindow) prune(now time.Time) {
	if w.span <= 0 {
		return
	}
	cutoff := now.Add(-w.span)
	kept := w.sent[:0]
	for _, t := range w.sent {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.sent = kept
}
