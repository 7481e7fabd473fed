package triage

import (
	"sort"
	"time"

	"github.com/you/chatminder/internal/core"
)

// item is one queued, scored event. Items are owned by the manager goroutine;
// nothing here locks.
type item struct {
	ev         core.Event
	tier       Tier
	score      int
	processed  bool
	enqueuedAt time.Time
	seq        uint64
}

// queue holds scored events between ingestion and selection. Capacity is
// enforced on insert; age limits are enforced on maintenance sweeps.
type queue struct {
	cap   int
	items []*item
	seq   uint64
}

func newQueue(capacity int) *queue {
	return &queue{cap: capacity}
}

func (q *queue) len() int { return len(q.items) }

func (q *queue) unprocessed() int {
	n := 0
	for _, it := range q.items {
		if !it.processed {
			n++
		}
	}
	return n
}

// add appends and, when over capacity, keeps the top entries by score.
// The sort is stable so earlier arrivals win ties; evicted items are
// returned for tracing.
func (q *queue) add(it *item) []*item {
	q.seq++
	it.seq = q.seq
	q.items = append(q.items, it)
	if q.cap <= 0 || len(q.items) <= q.cap {
		return nil
	}

	sort.SliceStable(q.items, func(i, j int) bool {
		return q.items[i].score > q.items[j].score
	})
	evicted := append([]*item(nil), q.items[q.cap:]...)
	q.items = q.items[:q.cap]
	return evicted
}

// sweep drops entries older than maxAge and marks entries older than
// staleAfter processed, so a reply never lands minutes late.
func (q *queue) sweep(now time.Time, maxAge, staleAfter time.Duration) (expired []*item, staled []*item) {
	kept := q.items[:0]
	for _, it := range q.items {
		age := now.Sub(it.enqueuedAt)
		if maxAge > 0 && age > maxAge {
			expired = append(expired, it)
			continue
		}
		if staleAfter > 0 && !it.processed && age > staleAfter {
			it.processed = true
			staled = append(staled, it)
		}
		kept = append(kept, it)
	}
	q.items = kept
	return expired, staled
}

// best returns the highest-scoring unprocessed entry at or above threshold,
// preferring the earlier arrival on ties.
func (q *queue) best(threshold int) *item {
	var best *item
	for _, it := range q.items {
		if it.processed || it.score < threshold {
			continue
		}
		if best == nil || it.score > best.score || (it.score == best.score && it.seq < best.seq) {
			best = it
		}
	}
	return best
}

// top returns up to k unprocessed entries ordered by score descending.
func (q *queue) top(k int) []*item {
	var open []*item
	for _, it := range q.items {
		if !it.processed {
			open = append(open, it)
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		return open[i].score > open[j].score
	})
	if k > 0 && len(open) > k {
		open = open[:k]
	}
	return open
}
