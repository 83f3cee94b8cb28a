// Package ratelimit paces upstream requests per host with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/comicfeed/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// HostRPS overrides DefaultRPS for specific hostnames.
	HostRPS map[string]float64
}

// Limiter manages per-host rate limits. A host that answered 429 can be
// paused with Penalize until its Retry-After passes.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	pausedUntil  map[string]time.Time
	hostRates    map[string]rate.Limit
	defaultRate  rate.Limit
	defaultBurst int
	now          func() time.Time
}

// New creates a new Limiter. A non-positive rate disables limiting.
func New(cfg Config) *Limiter {
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	hostRates := make(map[string]rate.Limit, len(cfg.HostRPS))
	for host, rps := range cfg.HostRPS {
		hostRates[strings.ToLower(host)] = toLimit(rps)
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		pausedUntil:  make(map[string]time.Time),
		hostRates:    hostRates,
		defaultRate:  toLimit(cfg.DefaultRPS),
		defaultBurst: burst,
		now:          time.Now,
	}
}

func toLimit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	limiter, pause := l.lookup(host)

	start := time.Now()
	if pause > 0 {
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Penalize pauses a host for d, typically from a Retry-After header.
func (l *Limiter) Penalize(rawURL string, d time.Duration) {
	if d <= 0 {
		return
	}
	host := hostOf(rawURL)
	l.mu.Lock()
	defer l.mu.Unlock()
	until := l.now().Add(d)
	if until.After(l.pausedUntil[host]) {
		l.pausedUntil[host] = until
	}
}

func (l *Limiter) lookup(host string) (*rate.Limiter, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[host]
	if !exists {
		r, ok := l.hostRates[host]
		if !ok {
			r = l.defaultRate
		}
		limiter = rate.NewLimiter(r, l.defaultBurst)
		l.limiters[host] = limiter
	}
	var pause time.Duration
	if until, ok := l.pausedUntil[host]; ok {
		pause = until.Sub(l.now())
		if pause <= 0 {
			delete(l.pausedUntil, host)
			pause = 0
		}
	}
	return limiter, pause
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
