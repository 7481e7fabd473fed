package irc

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	dropSummaryInterval = 5 * time.Second
	dropSampleMaxLen    = 96
)

var (
	oauthTokenRe = regexp.MustCompile(`(?i)oauth:[^\s;]+`)
	longTokenRe  = regexp.MustCompile(`[A-Za-z0-9+/_=\-]{24,}`)
)

type dropBucket struct {
	total  int
	sample string
}

// DropLog aggregates unparsed or ignored lines so a noisy channel cannot
// flood the log. Per reason it keeps a count and the first redacted sample,
// flushed as one summary per interval. Not safe for concurrent use; each
// socket loop owns one.
type DropLog struct {
	log      *slog.Logger
	interval time.Duration
	nextEmit time.Time
	reasons  map[string]*dropBucket
}

func NewDropLog(log *slog.Logger, now time.Time) *DropLog {
	if log == nil {
		log = slog.Default()
	}
	return &DropLog{
		log:      log,
		interval: dropSummaryInterval,
		nextEmit: now.Add(dropSummaryInterval),
		reasons:  make(map[string]*dropBucket),
	}
}

// Note records one dropped line under reason.
func (d *DropLog) Note(now time.Time, reason, rawLine string) {
	if d == nil {
		return
	}
	b := d.reasons[reason]
	if b == nil {
		b = &dropBucket{sample: redactLine(rawLine, dropSampleMaxLen)}
		d.reasons[reason] = b
	}
	b.total++

	if now.Before(d.nextEmit) {
		return
	}
	d.Flush(now)
}

// Flush emits one summary line per pending reason and resets the window.
func (d *DropLog) Flush(now time.Time) {
	if d == nil {
		return
	}
	d.nextEmit = now.Add(d.interval)
	if len(d.reasons) == 0 {
		return
	}

	reasons := make([]string, 0, len(d.reasons))
	for r := range d.reasons {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		b := d.reasons[r]
		d.log.Info("irc: dropped lines", "reason", r, "total", b.total, "sample", b.sample)
	}
	clear(d.reasons)
}

// redactLine collapses whitespace, strips anything token-shaped, and caps
// the length so log lines stay skimmable.
func redactLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}

	if upper := strings.ToUpper(s); strings.HasPrefix(upper, "PASS ") || upper == "PASS" {
		return "PASS [REDACTED]"
	}
	s = oauthTokenRe.ReplaceAllString(s, "oauth:[REDACTED]")
	s = longTokenRe.ReplaceAllString(s, "[REDACTED]")

	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
