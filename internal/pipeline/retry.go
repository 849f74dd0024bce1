package pipeline

import (
	"context"
	"errors"
	"math"
	"time"

	"fecingest/internal/services"
)

// RetryPolicy bounds the attempts of one stage. The delay before attempt n+1
// is Delay * Multiplier^(n-1), capped at MaxDelay when MaxDelay is positive.
type RetryPolicy struct {
	Attempts   int
	Delay      time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	// Retryable filters which errors earn another attempt. Nil retries
	// everything except configuration errors.
	Retryable func(error) bool
}

// NoRetry is a single-attempt policy.
func NoRetry() RetryPolicy {
	return RetryPolicy{Attempts: 1}
}

func (p RetryPolicy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(failed int) time.Duration {
	if p.Delay <= 0 || failed < 1 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.Delay) * math.Pow(mult, float64(failed-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

func (p RetryPolicy) shouldRetry(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return !errors.Is(err, services.ErrConfiguration)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

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
