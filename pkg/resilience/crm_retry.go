package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// RetryPolicy bounds how often and how long a call is retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides whether err warrants another attempt. Nil uses DefaultRetryable.
	Retryable func(err error) bool
}

// DefaultRetryPolicy is three attempts with 250ms, 500ms backoff capped at 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

// retryable is implemented by errors that know whether they are transient.
type retryable interface {
	Retryable() bool
}

// DefaultRetryable retries anything except open breakers, context errors and
// errors that declare themselves permanent. A declaration wins over the
// context check so a per-attempt timeout can opt in to a retry.
func DefaultRetryable(err error) bool {
	if err == nil || IsOpen(err) {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d <= 0 {
		return 0
	}
	// up to 20% jitter
	return d + time.Duration(rand.Int64N(int64(d)/5+1))
}

// Retry runs fn until it succeeds, returns a non-retryable error, the attempt
// budget is spent or ctx is done. The last error is returned.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	isRetryable := p.Retryable
	if isRetryable == nil {
		isRetryable = DefaultRetryable
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts || !isRetryable(err) {
			return err
		}

		timer := time.NewTimer(p.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

// Guard combines a circuit breaker with a bounded retry policy.
type Guard struct {
	breaker *gobreaker.CircuitBreaker
	policy  RetryPolicy
}

func NewGuard(breaker *gobreaker.CircuitBreaker, policy RetryPolicy) *Guard {
	return &Guard{breaker: breaker, policy: policy}
}

// Do runs fn through the breaker, retrying per policy. Each attempt counts
// separately toward the breaker.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return Retry(ctx, g.policy, func(ctx context.Context) error {
		if g.breaker == nil {
			return fn(ctx)
		}
		_, err := g.breaker.Execute(func() (any, error) {
			return nil, fn(ctx)
		})
		return err
	})
}

// Guards hands out one Guard per name so each upstream trips its own breaker.
// A nil breaker factory yields retry-only guards.
type Guards struct {
	policy  RetryPolicy
	breaker func(name string) *gobreaker.CircuitBreaker

	mu     sync.Mutex
	guards map[string]*Guard
}

func NewGuards(policy RetryPolicy, breaker func(name string) *gobreaker.CircuitBreaker) *Guards {
	return &Guards{policy: policy, breaker: breaker, guards: make(map[string]*Guard)}
}

// For returns the guard for name, creating it on first use. A nil *Guards
// returns nil.
func (g *Guards) For(name string) *Guard {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if guard, ok := g.guards[name]; ok {
		return guard
	}
	var cb *gobreaker.CircuitBreaker
	if g.breaker != nil {
		cb = g.breaker(name)
	}
	guard := NewGuard(cb, g.policy)
	g.guards[name] = guard
	return guard
}
