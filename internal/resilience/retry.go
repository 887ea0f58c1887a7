package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/cuemby/medallion/internal/config"
)

// RetryPolicy implements the jittered exponential backoff of spec §4.2:
//
//	delay(k) = min(max_delay, base_delay * multiplier^(k-2)) * (1 + U(-jitter, +jitter))   k >= 2
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64

	// rand is overridable for deterministic tests.
	rand func() float64
}

// NewRetryPolicy builds a RetryPolicy from the resolved config.
func NewRetryPolicy(spec config.ResilienceSpec) *RetryPolicy {
	rp := &RetryPolicy{
		MaxAttempts:    spec.MaxAttempts,
		BaseDelay:      spec.BaseDelay,
		MaxDelay:       spec.MaxDelay,
		Multiplier:     spec.Multiplier,
		JitterFraction: spec.JitterFraction,
	}
	if rp.MaxAttempts < 1 {
		rp.MaxAttempts = 1
	}
	if rp.Multiplier < 1 {
		rp.Multiplier = 1
	}
	rp.rand = rand.Float64
	return rp
}

// DelayFor returns the delay to wait before attempt k (k >= 2), honoring
// a server-supplied retry-after hint in place of the computed delay.
func (p *RetryPolicy) DelayFor(k int, retryAfter *int64) time.Duration {
	if retryAfter != nil {
		return time.Duration(*retryAfter) * time.Millisecond
	}
	if k < 2 {
		return 0
	}
	computed := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(k-2))
	if computed > float64(p.MaxDelay) {
		computed = float64(p.MaxDelay)
	}
	jitter := 1 + (2*p.rand()-1)*p.JitterFraction
	return time.Duration(computed * jitter)
}

// Op is the operation a Retry loop wraps. It returns a *Failure on error
// so the loop can classify retriability and read a retry-after hint.
type Op func(ctx context.Context, attempt int) error

// Do runs op up to MaxAttempts times, sleeping per DelayFor between
// attempts, stopping immediately on a non-retriable failure or on
// context cancellation.
func (p *RetryPolicy) Do(ctx context.Context, op Op) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return NewFailure(KindUnknown, err)
		}

		err := op(ctx, attempt)
		if err == nil {
			return nil
		}

		f := AsFailure(err)
		lastErr = f
		if !f.Retriable() || attempt == p.MaxAttempts {
			return f
		}

		delay := p.DelayFor(attempt+1, f.RetryAfter)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return NewFailure(KindUnknown, ctx.Err())
		}
	}
	return lastErr
}
