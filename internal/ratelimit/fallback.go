package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"certledger/pkg/platform/circuit"
)

// FallbackLimiter asks the primary first and answers from a local limiter while
// the primary's breaker is open. Limiting never stops during a store outage.
type FallbackLimiter struct {
	primary  Limiter
	fallback Limiter
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

func NewFallbackLimiter(primary, fallback Limiter, breaker *circuit.Breaker, logger *slog.Logger) *FallbackLimiter {
	return &FallbackLimiter{primary: primary, fallback: fallback, breaker: breaker, logger: logger}
}

func (f *FallbackLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	res, err := f.primary.Allow(ctx, key, limit, window)
	if err != nil {
		if _, change := f.breaker.RecordFailure(); change.Opened {
			f.logger.WarnContext(ctx, "rate limit store unavailable, limiting in process",
				"breaker", f.breaker.Name(),
				"error", err,
			)
		}
		return f.fallback.Allow(ctx, key, limit, window)
	}
	usePrimary, change := f.breaker.RecordSuccess()
	if change.Closed {
		f.logger.InfoContext(ctx, "rate limit store recovered", "breaker", f.breaker.Name())
	}
	if !usePrimary {
		return f.fallback.Allow(ctx, key, limit, window)
	}
	return res, nil
}

// Degraded reports whether answers currently come from the fallback.
func (f *FallbackLimiter) Degraded() bool {
	return f.breaker.IsOpen()
}
