// Package crawl contains the scraping engine: the per-session wizard state
// machine, broken-session recovery, politeness rate limiting, and the
// orchestrator that fans a batch of provider URLs out to concurrent
// sessions.
package crawl

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mhollis/fibrescan"
)

// DefaultNavigationInterval spaces successive navigations to the same host.
const DefaultNavigationInterval = 2 * time.Second

// Ensure RateLimiter implements fibrescan.HostLimiter at compile time.
var _ fibrescan.HostLimiter = (*RateLimiter)(nil)

// RateLimiter enforces a per-host navigation rate across all concurrent
// sessions, so retries and fallback navigations against the same provider
// stay polite even when sessions overlap.
type RateLimiter struct {
	interval time.Duration
	burst    int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter creates a limiter allowing one navigation per interval per
// host, with an initial burst of one.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	if interval <= 0 {
		interval = DefaultNavigationInterval
	}
	return &RateLimiter{
		interval: interval,
		burst:    1,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the host's limiter allows another navigation. Returns an
// error only when the context ends first.
func (r *RateLimiter) Wait(ctx context.Context, host string) error {
	r.mu.Lock()
	lim, ok := r.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(r.interval), r.burst)
		r.limiters[host] = lim
	}
	r.mu.Unlock()
	return lim.Wait(ctx)
}
