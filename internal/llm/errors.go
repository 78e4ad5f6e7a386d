package llm

import (
	"errors"
	"regexp"
	"strconv"
	"time"
)

// Every adapter classifies provider failures into one of three kinds before
// returning: *RateLimitError (retryable), *QuotaError (fatal) or a plain error.

// RateLimitError is a transient "slow down" signal from the provider.
type RateLimitError struct {
	err error
	// RetryAfter is the provider's explicit hint, zero when absent.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return e.err.Error()
}

func (e *RateLimitError) Unwrap() error {
	return e.err
}

// NewRateLimitError wraps err as a retryable rate-limit signal.
func NewRateLimitError(err error, retryAfter time.Duration) error {
	return &RateLimitError{err: err, RetryAfter: retryAfter}
}

// QuotaError means the account's quota or billing is exhausted. It is never
// retried: every subsequent call would fail the same way.
type QuotaError struct {
	err error
}

func (e *QuotaError) Error() string {
	return e.err.Error()
}

func (e *QuotaError) Unwrap() error {
	return e.err
}

// NewQuotaError wraps err as a fatal quota-exhaustion signal.
func NewQuotaError(err error) error {
	return &QuotaError{err: err}
}

// IsRateLimited reports whether err is a retryable rate-limit error.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl) && !IsQuotaExhausted(err)
}

// IsQuotaExhausted reports whether err is a fatal quota error.
func IsQuotaExhausted(err error) bool {
	var q *QuotaError
	return errors.As(err, &q)
}

var tryAgainPattern = regexp.MustCompile(`(?i)try again in (\d+(?:\.\d+)?)\s*(ms|s|sec|seconds?)\b`)

// RetryAfterHint extracts the provider's suggested delay from err: the
// explicit RetryAfter value first, then a "try again in N seconds" phrase in
// the message. ok is false when neither is present.
func RetryAfterHint(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter, true
	}
	if err == nil {
		return 0, false
	}
	return parseTryAgain(err.Error())
}

func parseTryAgain(msg string) (time.Duration, bool) {
	m := tryAgainPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil || n < 0 {
		return 0, false
	}
	unit := time.Second
	if m[2] == "ms" {
		unit = time.Millisecond
	}
	return time.Duration(n * float64(unit)), true
}

// parseRetryAfterHeader reads a Retry-After value given in seconds.
func parseRetryAfterHeader(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
