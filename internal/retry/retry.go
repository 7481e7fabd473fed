package retry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Policy drives reconnect pacing: delay(n) = min(base * 2^n, cap) for the
// n-th consecutive failure, with a hard attempt budget.
type Policy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultPolicy matches the socket reconnect defaults: 1s doubling to a 30s
// ceiling, ten attempts before giving up.
func DefaultPolicy() Policy {
	return Policy{Base: time.Second, Cap: 30 * time.Second, MaxAttempts: 10}
}

// Delay returns the wait before retry number attempt (counted from 1).
// Doubling is iterative so a large attempt count cannot overflow.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	ceiling := p.Cap
	if ceiling <= 0 {
		ceiling = 30 * time.Second
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// Exhausted reports whether the attempt budget is spent. A zero or negative
// MaxAttempts means retry forever.
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt > p.MaxAttempts
}

// Sleep waits for d or until ctx is cancelled, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RateLimited is returned when a platform answers 429. Reset is when
// requests may resume.
type RateLimited struct {
	Reset time.Time
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("rate limited until %s", e.Reset.UTC().Format(time.RFC3339))
}

// ResetFromHeader reads the first present unix-epoch reset header (Twitch
// sends Ratelimit-Reset, X sends x-rate-limit-reset). ok is false when none
// parse, in which case callers fall back to a fixed suspension.
func ResetFromHeader(h http.Header, keys ...string) (time.Time, bool) {
	for _, key := range keys {
		raw := h.Get(key)
		if raw == "" {
			continue
		}
		epoch, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || epoch <= 0 {
			continue
		}
		return time.Unix(epoch, 0).UTC(), true
	}
	return time.Time{}, false
}
