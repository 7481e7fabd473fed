package triage

import (
	"testing"
	"time"
)

func TestWindowMinGap(t *testing.T) {
	w := newDispatchWindow(6, time.Minute, 8*time.Second)
	start := time.Now()

	if ok, _ := w.allow(start); !ok {
		t.Fatal("first dispatch should be allowed")
	}
	w.note(start)

	if ok, reason := w.allow(start.Add(5 * time.Second)); ok || reason != "min_gap" {
		t.Errorf("allow at +5s = %v (%s), want blocked by min_gap", ok, reason)
	}
	if ok, _ := w.allow(start.Add(8 * time.Second)); !ok {
		t.Error("allow at +8s should pass")
	}
}

func TestWindowPerMinuteCapSlides(t *testing.T) {
	w := newDispatchWindow(6, time.Minute, 8*time.Second)
	start := time.Now()

	// six dispatches spaced nine seconds apart fill the window
	at := start
	for i := 0; i < 6; i++ {
		ok, reason := w.allow(at)
		if !ok {
			t.Fatalf("dispatch %d blocked: %s", i+1, reason)
		}
		w.note(at)
		at = at.Add(9 * time.Second)
	}

	// at +54s the first five are still inside the sliding minute
	if ok, reason := w.allow(start.Add(54 * time.Second)); ok || reason != "window_full" {
		t.Errorf("allow at +54s = %v (%s), want blocked by window_full", ok, reason)
	}

	// one second past the first dispatch's expiry a slot opens
	if ok, _ := w.allow(start.Add(61 * time.Second)); !ok {
		t.Error("allow at +61s should pass once the window slides")
	}

	used, limit := w.usage(start.Add(61 * time.Second))
	if used != 5 || limit != 6 {
		t.Errorf("usage = %d/%d, want 5/6", used, limit)
	}
}
