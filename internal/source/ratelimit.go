package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrDailyLimitReached is returned when the daily API call quota is exhausted.
var ErrDailyLimitReached = errors.New("daily API limit reached")

const quotaWindow = 24 * time.Hour

// RateLimiter gates availability API calls with a token bucket for burst
// smoothing and a rolling 24-hour quota. The quota window starts at the
// first call and slides forward once it expires, so the counter never
// resets at a fixed wall-clock hour.
type RateLimiter struct {
	limiter *rate.Limiter

	mu        sync.Mutex
	used      int64
	maxDaily  int64
	windowEnd time.Time
	nowFunc   func() time.Time
}

// RateLimiterOption configures the RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithRateLimiterNowFunc overrides the time function for testing.
func WithRateLimiterNowFunc(f func() time.Time) RateLimiterOption {
	return func(r *RateLimiter) {
		r.nowFunc = f
	}
}

// NewRateLimiter creates a rate limiter with the given per-second rate,
// burst size, and daily quota.
func NewRateLimiter(
	perSecond float64,
	burst int,
	maxDaily int64,
	opts ...RateLimiterOption,
) *RateLimiter {
	r := &RateLimiter{
		limiter:  rate.NewLimiter(rate.Limit(perSecond), burst),
		maxDaily: maxDaily,
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.windowEnd = r.nowFunc().Add(quotaWindow)
	return r
}

// Wait blocks until the limiter admits the call or the context is canceled.
// Returns ErrDailyLimitReached when the quota for the current window is
// spent; callers should treat that as fatal for the cycle, not retryable.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.consumeQuota(); err != nil {
		return err
	}

	if err := r.limiter.Wait(ctx); err != nil {
		r.refundQuota()
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	return nil
}

// DailyCount returns the number of calls admitted in the current window.
func (r *RateLimiter) DailyCount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used
}

// Remaining returns the calls left in the current window.
func (r *RateLimiter) Remaining() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used >= r.maxDaily {
		return 0
	}
	return r.maxDaily - r.used
}

// consumeQuota takes one unit of daily quota, rolling the window forward
// when it has expired.
func (r *RateLimiter) consumeQuota() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	if now.After(r.windowEnd) {
		r.used = 0
		r.windowEnd = now.Add(quotaWindow)
	}

	if r.used >= r.maxDaily {
		return fmt.Errorf("%w (%d/%d)", ErrDailyLimitReached, r.used, r.maxDaily)
	}

	r.used++
	return nil
}

// refundQuota returns one unit taken by consumeQuota when the token bucket
// wait was abandoned, so canceled calls don't burn quota.
func (r *RateLimiter) refundQuota() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used > 0 {
		r.used--
	}
}
