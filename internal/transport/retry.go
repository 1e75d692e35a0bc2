// Package transport delivers upload envelopes to a collection endpoint over
// HTTP, or to an S3-compatible object store.
package transport

import (
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// Backoff schedules retries after transient upload failures.
type Backoff struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// Max caps any single delay.
	Max time.Duration
	// Retries is the number of retries after the first attempt.
	Retries int
	// Jitter spreads each delay by +/- this fraction.
	Jitter float64
}

// DefaultBackoff retries up to 5 times between 1s and 2m with 20% jitter.
var DefaultBackoff = Backoff{
	Base:    time.Second,
	Max:     2 * time.Minute,
	Retries: 5,
	Jitter:  0.2,
}

// Delay returns the wait before retry number attempt (0-indexed), and false
// once no retries remain.
func (b Backoff) Delay(attempt int) (time.Duration, bool) {
	if attempt >= b.Retries {
		return 0, false
	}

	d := float64(b.Base) * math.Pow(2, float64(attempt))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		//nolint:gosec // jitter only
		d += d * b.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(max(d, 0)), true
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(header string, now time.Time) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}
