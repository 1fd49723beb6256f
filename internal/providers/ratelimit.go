package providers

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces calls to a provider and backs off after it throttles us.
type RateLimiter struct {
	lim *rate.Limiter
	now func() time.Time

	mu          sync.Mutex
	consumed    int64
	waited      time.Duration
	last429Time time.Time
}

// RateLimiterStatus reports current limiter state.
type RateLimiterStatus struct {
	TokensAvailable float64       `json:"tokens_available"`
	TokensLimit     int           `json:"tokens_limit"`
	TotalConsumed   int64         `json:"total_consumed"`
	TotalWaited     time.Duration `json:"total_waited"`
	Last429Time     time.Time     `json:"last_429_time,omitempty"`
}

// NewRateLimiter allows rps calls per second with a burst of one second's
// worth of calls (at least 1). A non-positive rps defaults to 10.
func NewRateLimiter(rps float64) *RateLimiter {
	if rps <= 0 {
		rps = 10
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{lim: rate.NewLimiter(rate.Limit(rps), burst), now: time.Now}
}

// Wait blocks until a call may proceed or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	now := r.now()
	res := r.lim.ReserveN(now, 1)
	delay := res.DelayFrom(now)
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			res.CancelAt(r.now())
			return ctx.Err()
		case <-timer.C:
		}
	}

	r.mu.Lock()
	r.consumed++
	r.waited += delay
	r.mu.Unlock()
	return nil
}

// TryConsume takes a token if one is available.
func (r *RateLimiter) TryConsume() bool {
	if !r.lim.AllowN(r.now(), 1) {
		return false
	}
	r.mu.Lock()
	r.consumed++
	r.mu.Unlock()
	return true
}

// Record429 spends a full burst so the next callers wait out a refill.
func (r *RateLimiter) Record429() {
	now := r.now()
	r.lim.ReserveN(now, r.lim.Burst())

	r.mu.Lock()
	r.last429Time = now
	r.mu.Unlock()
}

// Status returns current limiter status.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RateLimiterStatus{
		TokensAvailable: r.lim.TokensAt(r.now()),
		TokensLimit:     r.lim.Burst(),
		TotalConsumed:   r.consumed,
		TotalWaited:     r.waited,
		Last429Time:     r.last429Time,
	}
}
