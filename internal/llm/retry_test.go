package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedOracle returns errs in order, then succeeds.
type scriptedOracle struct {
	errs  []error
	calls int
}

func (s *scriptedOracle) Call(ctx context.Context, req Request) (*Response, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return nil, s.errs[s.calls-1]
	}
	return &Response{OutputText: "Approved.\nPercentile: 50", CallID: "resp_ok"}, nil
}

func (s *scriptedOracle) Name() string { return "scripted" }

func (s *scriptedOracle) Close() error { return nil }

type recordingSleep struct {
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func TestRetryingOracle_RetriesRateLimitThenSucceeds(t *testing.T) {
	rl := NewRateLimitError(errors.New("429 Too Many Requests"), 0)
	stub := &scriptedOracle{errs: []error{rl, rl}}
	rec := &recordingSleep{}

	var observed int
	oracle := NewRetryingOracle(stub, DefaultRetryConfig(), zap.NewNop(),
		WithSleep(rec.sleep),
		WithRetryObserver(func(int, time.Duration, error) { observed++ }))

	resp, err := oracle.Call(context.Background(), Request{UserText: "post"})
	require.NoError(t, err)
	assert.Equal(t, "resp_ok", resp.CallID)
	assert.Equal(t, 3, stub.calls)
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, rec.delays)
	assert.Equal(t, 2, observed)
}

func TestRetryingOracle_QuotaIsImmediate(t *testing.T) {
	quota := NewQuotaError(errors.New("You exceeded your current quota"))
	stub := &scriptedOracle{errs: []error{quota, quota, quota, quota}}
	rec := &recordingSleep{}

	oracle := NewRetryingOracle(stub, DefaultRetryConfig(), zap.NewNop(), WithSleep(rec.sleep))

	_, err := oracle.Call(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, IsQuotaExhausted(err))
	assert.Equal(t, 1, stub.calls)
	assert.Empty(t, rec.delays)
}

func TestRetryingOracle_ExhaustionReturnsLastError(t *testing.T) {
	last := NewRateLimitError(errors.New("third"), 0)
	stub := &scriptedOracle{errs: []error{
		NewRateLimitError(errors.New("first"), 0),
		NewRateLimitError(errors.New("second"), 0),
		last,
	}}
	rec := &recordingSleep{}

	oracle := NewRetryingOracle(stub, DefaultRetryConfig(), zap.NewNop(), WithSleep(rec.sleep))

	_, err := oracle.Call(context.Background(), Request{})
	assert.Same(t, last, err)
	assert.Equal(t, 3, stub.calls)
	assert.Len(t, rec.delays, 2)
}

func TestRetryingOracle_OtherErrorsNotRetried(t *testing.T) {
	stub := &scriptedOracle{errs: []error{errors.New("connection reset")}}
	rec := &recordingSleep{}

	oracle := NewRetryingOracle(stub, DefaultRetryConfig(), zap.NewNop(), WithSleep(rec.sleep))

	_, err := oracle.Call(context.Background(), Request{})
	require.EqualError(t, err, "connection reset")
	assert.Equal(t, 1, stub.calls)
	assert.Empty(t, rec.delays)
}

func TestRetryingOracle_UsesProviderHint(t *testing.T) {
	stub := &scriptedOracle{errs: []error{
		NewRateLimitError(errors.New("slow down"), 1500*time.Millisecond),
		NewRateLimitError(errors.New("Rate limit reached. Please try again in 20ms."), 0),
	}}
	rec := &recordingSleep{}

	oracle := NewRetryingOracle(stub, DefaultRetryConfig(), zap.NewNop(), WithSleep(rec.sleep))

	_, err := oracle.Call(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{1500 * time.Millisecond, 20 * time.Millisecond}, rec.delays)
}

func TestRetryingOracle_CancelledDuringBackoff(t *testing.T) {
	stub := &scriptedOracle{errs: []error{NewRateLimitError(errors.New("429"), time.Hour)}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	oracle := NewRetryingOracle(stub, DefaultRetryConfig(), zap.NewNop())

	_, err := oracle.Call(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, stub.calls)
}

func TestRetryAfterHint(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		want   time.Duration
		wantOK bool
	}{
		{"explicit", NewRateLimitError(errors.New("x"), 2*time.Second), 2 * time.Second, true},
		{"seconds phrase", errors.New("Please try again in 7 seconds"), 7 * time.Second, true},
		{"fractional", errors.New("please try again in 1.25s."), 1250 * time.Millisecond, true},
		{"millis", errors.New("Please try again in 300ms"), 300 * time.Millisecond, true},
		{"no hint", errors.New("rate limited"), 0, false},
		{"nil", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RetryAfterHint(tt.err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestErrorKinds(t *testing.T) {
	rl := NewRateLimitError(errors.New("429"), 0)
	q := NewQuotaError(errors.New("billing"))

	assert.True(t, IsRateLimited(rl))
	assert.False(t, IsQuotaExhausted(rl))
	assert.True(t, IsQuotaExhausted(q))
	assert.False(t, IsRateLimited(q))

	wrapped := errors.Join(errors.New("context"), rl)
	assert.True(t, IsRateLimited(wrapped))
	assert.False(t, IsRateLimited(errors.New("plain")))
}
