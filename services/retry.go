package services

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig parameterizes the exponential-backoff retry engine.
// Defaults per spec: maxRetries=3, initialDelay=1s, maxDelay=10s, factor=2.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
}

// DefaultRetryConfig returns the spec's defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Factor:       2,
	}
}

// Retrier runs operations up to MaxRetries+1 times with jittered
// exponential backoff between attempts, gated by a caller-supplied
// ShouldRetry predicate. Grounded in shape on worker/ai_worker.go's
// failJob attempt-counting/backoff, generalized into an in-call retry.
type Retrier struct {
	cfg   RetryConfig
	clock Clock
}

func NewRetrier(cfg RetryConfig, clock Clock) *Retrier {
	return &Retrier{cfg: cfg, clock: clock}
}

// Do runs fn, retrying while shouldRetry(err) is true, up to
// MaxRetries additional attempts. It does not itself decide whether a
// breaker-rejection error counts against the budget — callers pass a
// shouldRetry that already returns false for those.
func (r *Retrier) Do(ctx context.Context, shouldRetry func(error) bool, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt >= r.cfg.MaxRetries || !shouldRetry(err) {
			return err
		}

		delay := r.backoff(attempt)
		r.clock.Sleep(ctx, delay)
		if ctx.Err() != nil {
			return err
		}
	}
}

func (r *Retrier) backoff(attempt int) time.Duration {
	base := float64(r.cfg.InitialDelay) * pow(r.cfg.Factor, attempt)
	jitter := float64(time.Duration(rand.Intn(1001)) * time.Millisecond)
	d := time.Duration(base + jitter)
	if d > r.cfg.MaxDelay {
		d = r.cfg.MaxDelay
	}
	return d
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// DefaultShouldRetry is the Social Gateway's retry predicate: false
// while the associated breaker is not CLOSED (don't waste retries
// while the circuit says stop), true for NETWORK/SERVER/THROTTLED.
func DefaultShouldRetry(breakers *BreakerRegistry, key string) func(error) bool {
	return func(err error) bool {
		if breakers.CurrentState(key) != Closed {
			return false
		}
		gwErr, ok := err.(*GatewayError)
		if !ok {
			return false
		}
		return gwErr.Kind.Retryable()
	}
}
