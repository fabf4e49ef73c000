package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"crm_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// RateLimiter is a fixed-window per-IP limiter kept in memory.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string]*window
	limit    int
	period   time.Duration
	now      func() time.Time
}

type window struct {
	count     int
	expiresAt time.Time
}

func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string]*window),
		limit:    limit,
		period:   period,
		now:      time.Now,
	}
}

// Run evicts expired windows until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evict()
		}
	}
}

func (rl *RateLimiter) evict() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, w := range rl.requests {
		if now.After(w.expiresAt) {
			delete(rl.requests, key)
		}
	}
}

// allow counts one request for key.
func (rl *RateLimiter) allow(key string) (remaining int, reset time.Time, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	w, exists := rl.requests[key]
	if !exists || now.After(w.expiresAt) {
		w = &window{expiresAt: now.Add(rl.period)}
		rl.requests[key] = w
	}
	if w.count >= rl.limit {
		return 0, w.expiresAt, false
	}
	w.count++
	return rl.limit - w.count, w.expiresAt, true
}

func (rl *RateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		remaining, reset, ok := rl.allow(c.IP())
		c.Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		if !ok {
			return apperr.New(apperr.CodeRateLimited, "too many requests", fiber.StatusTooManyRequests).
				WithDetail("retry_after", int(time.Until(reset).Seconds())+1)
		}
		return c.Next()
	}
}
