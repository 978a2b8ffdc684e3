package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// RetryPolicy defines bounded exponential retry for transient failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
	IsRetryable func(error) bool
	Sleep       func(context.Context, time.Duration) error
}

// NewRetryPolicy returns a policy with the given ceiling and delay bounds.
// Zero values take the defaults: 3 attempts, 1s base, 10s cap.
func NewRetryPolicy(maxAttempts int, base, max time.Duration) RetryPolicy {
	return RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: base, MaxDelay: max}.withDefaults()
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 3
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = time.Second
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = 10 * time.Second
	}
	if r.MaxDelay < r.BaseDelay {
		r.MaxDelay = r.BaseDelay
	}
	if r.IsRetryable == nil {
		r.IsRetryable = DefaultIsRetryable
	}
	if r.Sleep == nil {
		r.Sleep = sleepContext
	}
	return r
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt ceiling is reached.
func (r RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := Retry(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Retry is the value-returning form of RetryPolicy.Do.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	policy = policy.withDefaults()
	var zero T
	var lastErr error
	for i := 0; i < policy.MaxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !policy.IsRetryable(err) || i == policy.MaxAttempts-1 {
			break
		}
		if err := policy.Sleep(ctx, policy.delay(i)); err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("retry exhausted: %w", lastErr)
}

// DefaultIsRetryable treats everything except cancellation as transient.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

var (
	jitterMu  sync.Mutex
	jitterSrc = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func (r RetryPolicy) delay(attempt int) time.Duration {
	d := time.Duration(float64(r.BaseDelay) * math.Pow(2, float64(attempt)))
	if d > r.MaxDelay || d <= 0 {
		d = r.MaxDelay
	}
	if r.Jitter > 0 {
		jitterMu.Lock()
		f := jitterSrc.Float64()
		jitterMu.Unlock()
		d += time.Duration(float64(d) * r.Jitter * f)
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
