package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type permanentErr struct{}

func (permanentErr) Error() string   { return "permanent" }
func (permanentErr) Retryable() bool { return false }

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryIsBounded(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		return errors.New("down")
	})
	assert.EqualError(t, err, "down")
	assert.Equal(t, 3, calls)
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return permanentErr{}
	})
	assert.ErrorIs(t, err, permanentErr{})
	assert.Equal(t, 1, calls)
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return errors.New("slow")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestGuardOpensBreaker(t *testing.T) {
	cfg := DefaultBreakerConfig("test")
	cfg.ConsecutiveFailures = 1
	g := NewGuard(NewBreaker(cfg), fastPolicy(1))

	failing := func(context.Context) error { return errors.New("500") }
	_ = g.Do(context.Background(), failing)
	_ = g.Do(context.Background(), failing)

	err := g.Do(context.Background(), func(context.Context) error { return nil })
	assert.True(t, IsOpen(err), "expected open breaker, got %v", err)
	assert.False(t, DefaultRetryable(err))
}

func TestGuardsIsolateBreakers(t *testing.T) {
	guards := NewGuards(fastPolicy(1), func(name string) *gobreaker.CircuitBreaker {
		cfg := DefaultBreakerConfig(name)
		cfg.ConsecutiveFailures = 1
		return NewBreaker(cfg)
	})
	assert.Same(t, guards.For("google"), guards.For("google"))

	failing := func(context.Context) error { return errors.New("503") }
	_ = guards.For("google").Do(context.Background(), failing)
	_ = guards.For("google").Do(context.Background(), failing)

	err := guards.For("google").Do(context.Background(), func(context.Context) error { return nil })
	assert.True(t, IsOpen(err))
	assert.NoError(t, guards.For("outlook").Do(context.Background(), func(context.Context) error { return nil }))

	var none *Guards
	assert.Nil(t, none.For("google"))
}

func TestGuardIgnoresPermanentFailures(t *testing.T) {
	cfg := DefaultBreakerConfig("test")
	cfg.ConsecutiveFailures = 1
	g := NewGuard(NewBreaker(cfg), fastPolicy(1))

	for i := 0; i < 10; i++ {
		err := g.Do(context.Background(), func(context.Context) error { return permanentErr{} })
		assert.ErrorIs(t, err, permanentErr{})
	}
	assert.NoError(t, g.Do(context.Background(), func(context.Context) error { return nil }))
}
