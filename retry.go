package tracksync

import (
	"net/http"
	"strconv"
	"time"
)

// RetryPolicy decides which HTTP failures are worth another attempt and how
// long to wait between attempts. It is a plain value so fetch behavior can be
// tested without a network.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
	Retryable   func(status int) bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Base:        time.Second,
		Cap:         30 * time.Second,
		Retryable:   RetryableStatus,
	}
}

// RetryableStatus reports whether status is a transient upstream condition:
// rate limiting or a server error.
func RetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func (p RetryPolicy) ShouldRetry(attempt, status int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = RetryableStatus
	}
	return retryable(status)
}

// Delay returns the backoff before the given 1-based attempt is retried. A
// server-provided Retry-After hint wins over the exponential schedule; both
// are capped.
func (p RetryPolicy) Delay(attempt int, h http.Header) time.Duration {
	d := p.Base << uint(attempt-1)
	if h != nil {
		if secs, err := strconv.Atoi(h.Get("Retry-After")); err == nil && secs > 0 {
			d = time.Duration(secs) * time.Second
		}
	}
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}
	return d
}
