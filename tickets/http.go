package tickets

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPRequestTimeout is the default timeout for all HTTP requests to the Freshdesk API.
const HTTPRequestTimeout = 60 * time.Second

// RetryPolicy bounds how the client recovers from rate limiting and transient failures.
type RetryPolicy struct {
	MaxRateLimitRetries int
	MaxTransientRetries int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	// FallbackRetryAfter is used when a 429 carries no usable Retry-After header.
	FallbackRetryAfter time.Duration
}

// DefaultRetryPolicy returns the retry policy used when the recipe config leaves it unset.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRateLimitRetries: 5,
		MaxTransientRetries: 3,
		BaseDelay:           1 * time.Second,
		MaxDelay:            30 * time.Second,
		FallbackRetryAfter:  60 * time.Second,
	}
}

// Backoff returns the delay before transient retry n (0-based).
func (p RetryPolicy) Backoff(n int) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < n; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// retryTracker is the per-request retry state machine.
// Counters only grow; once a bound is crossed every later call keeps failing.
type retryTracker struct {
	policy      RetryPolicy
	rateLimited int
	transient   int
}

func newRetryTracker(policy RetryPolicy) *retryTracker {
	return &retryTracker{policy: policy}
}

// onRateLimited records a 429 and returns how long to wait before retrying.
func (t *retryTracker) onRateLimited(header http.Header, now time.Time) (time.Duration, error) {
	if t.rateLimited >= t.policy.MaxRateLimitRetries {
		return 0, &RateLimitExceededError{Retries: t.rateLimited}
	}
	t.rateLimited++
	if d, ok := parseRetryAfter(header.Get("Retry-After"), now); ok {
		return d, nil
	}
	return t.policy.FallbackRetryAfter, nil
}

// onTransient records a 5xx or transport failure and returns the backoff delay.
func (t *retryTracker) onTransient(status int, cause error) (time.Duration, error) {
	if t.transient >= t.policy.MaxTransientRetries {
		return 0, &TransientFailureError{Attempts: t.transient + 1, Status: status, Err: cause}
	}
	delay := t.policy.Backoff(t.transient)
	t.transient++
	return delay, nil
}

// parseRetryAfter accepts both forms allowed by RFC 9110: delay-seconds and an HTTP date.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// Sleeper suspends the caller for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
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
