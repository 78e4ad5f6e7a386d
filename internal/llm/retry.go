package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryConfig holds retry configuration for oracle calls.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts per logical call.
	MaxAttempts int

	// DefaultDelay is used when the provider gives no retry hint.
	DefaultDelay time.Duration
}

// DefaultRetryConfig returns the retry defaults for judge calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		DefaultDelay: 3 * time.Second,
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryObserver is notified before each backoff.
type RetryObserver func(attempt int, delay time.Duration, err error)

// RetryingOracle retries rate-limited calls of the wrapped oracle. Quota
// errors and all other failures propagate on the first occurrence.
type RetryingOracle struct {
	oracle   Oracle
	cfg      RetryConfig
	sleep    SleepFunc
	observer RetryObserver
	logger   *zap.Logger
}

// RetryOption configures a RetryingOracle.
type RetryOption func(*RetryingOracle)

// WithSleep replaces the wait between attempts.
func WithSleep(fn SleepFunc) RetryOption {
	return func(r *RetryingOracle) {
		r.sleep = fn
	}
}

// WithRetryObserver registers a callback invoked before each retry.
func WithRetryObserver(fn RetryObserver) RetryOption {
	return func(r *RetryingOracle) {
		r.observer = fn
	}
}

// NewRetryingOracle wraps oracle with the retry policy.
func NewRetryingOracle(oracle Oracle, cfg RetryConfig, logger *zap.Logger, opts ...RetryOption) *RetryingOracle {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultRetryConfig().MaxAttempts
	}
	if cfg.DefaultDelay < 0 {
		cfg.DefaultDelay = 0
	}
	r := &RetryingOracle{
		oracle: oracle,
		cfg:    cfg,
		sleep:  sleepContext,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RetryingOracle) Call(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		resp, err := r.oracle.Call(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if IsQuotaExhausted(err) || !IsRateLimited(err) {
			return nil, err
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}

		delay := r.backoff(err)
		r.logger.Warn("Oracle rate limited, retrying",
			zap.String("provider", r.oracle.Name()),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.cfg.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))
		if r.observer != nil {
			r.observer(attempt, delay, err)
		}

		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (r *RetryingOracle) backoff(err error) time.Duration {
	delay, ok := RetryAfterHint(err)
	if !ok {
		delay = r.cfg.DefaultDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

func (r *RetryingOracle) Name() string {
	return r.oracle.Name()
}

func (r *RetryingOracle) Close() error {
	return r.oracle.Close()
}
