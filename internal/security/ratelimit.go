package security

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a request exceeds the rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitConfig holds per-client request limits. A zero
// RequestsPerMinute disables limiting.
type RateLimitConfig struct {
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Burst             int           `yaml:"burst"`
	IdleTTL           time.Duration `yaml:"idle_ttl"`
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.Burst <= 0 {
		c.Burst = max(c.RequestsPerMinute/6, 1)
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 10 * time.Minute
	}
	return c
}

// RateLimiter keeps one token bucket per client key.
type RateLimiter struct {
	mu      sync.Mutex
	cfg     RateLimitConfig
	clients map[string]*client
	now     func() time.Time
}

type client struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewRateLimiter creates a rate limiter with the given config.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		cfg:     cfg.withDefaults(),
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

// Allow reports whether one more request from key fits its bucket.
// Returns ErrRateLimited when it does not.
func (rl *RateLimiter) Allow(key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.cfg.RequestsPerMinute <= 0 {
		return nil
	}

	now := rl.now()
	c, ok := rl.clients[key]
	if !ok {
		c = &client{lim: rate.NewLimiter(rl.limit(), rl.cfg.Burst)}
		rl.clients[key] = c
	}
	c.seen = now
	if !c.lim.AllowN(now, 1) {
		return ErrRateLimited
	}
	return nil
}

// Update swaps the limits. Existing buckets are adjusted in place.
func (rl *RateLimiter) Update(cfg RateLimitConfig) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.cfg = cfg.withDefaults()
	now := rl.now()
	for _, c := range rl.clients {
		c.lim.SetLimitAt(now, rl.limit())
		c.lim.SetBurstAt(now, rl.cfg.Burst)
	}
}

// Cleanup drops buckets idle longer than IdleTTL and returns how many
// were removed.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.cfg.IdleTTL)
	n := 0
	for key, c := range rl.clients {
		if c.seen.Before(cutoff) {
			delete(rl.clients, key)
			n++
		}
	}
	return n
}

// Clients returns the number of tracked client buckets.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *RateLimiter) limit() rate.Limit {
	return rate.Limit(float64(rl.cfg.RequestsPerMinute) / 60)
}
