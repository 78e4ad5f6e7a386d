package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitedOracle wraps an oracle with client-side request pacing.
type RateLimitedOracle struct {
	oracle  Oracle
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewRateLimitedOracle paces calls to at most requestsPerMinute.
func NewRateLimitedOracle(oracle Oracle, requestsPerMinute int, logger *zap.Logger) *RateLimitedOracle {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return &RateLimitedOracle{
		oracle:  oracle,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
		logger:  logger,
	}
}

func (p *RateLimitedOracle) Call(ctx context.Context, req Request) (*Response, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}
	return p.oracle.Call(ctx, req)
}

func (p *RateLimitedOracle) Name() string {
	return p.oracle.Name()
}

func (p *RateLimitedOracle) Close() error {
	return p.oracle.Close()
}
