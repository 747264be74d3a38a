package provider

import (
	"sync"
	"time"
)

const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = time.Minute
	defaultMaxFailures    = 5
	defaultCheckInterval  = 10 * time.Second
)

type healthState int

const (
	stateHealthy  healthState = iota
	stateCooldown             // transient failure, backing off
	stateDead                 // too many consecutive failures
)

func (s healthState) String() string {
	switch s {
	case stateHealthy:
		return "healthy"
	case stateCooldown:
		return "cooldown"
	case stateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// HealthConfig controls health tracking behavior. Zero values select the
// defaults: 1s initial backoff, 60s max backoff, 5 failures before dead and a
// 10s check interval.
type HealthConfig struct {
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	MaxFailures    int           `yaml:"max_failures"`
	CheckInterval  time.Duration `yaml:"check_interval"`
}

func (c HealthConfig) checkIntervalOrDefault() time.Duration {
	if c.CheckInterval <= 0 {
		return defaultCheckInterval
	}
	return c.CheckInterval
}

func (c HealthConfig) withDefaults() HealthConfig {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = defaultMaxFailures
	}
	c.CheckInterval = c.checkIntervalOrDefault()
	return c
}

// healthTracker monitors the availability of a single provider with
// exponential backoff. After MaxFailures consecutive failures the provider
// is dead until a health check or request succeeds.
type healthTracker struct {
	cfg HealthConfig

	// onStateChange is called outside the lock on every transition.
	onStateChange func(from, to healthState)

	mu              sync.Mutex
	state           healthState
	failures        int
	currentBackoff  time.Duration
	cooldownExpires time.Time

	now func() time.Time
}

func newHealthTracker(cfg HealthConfig) *healthTracker {
	return &healthTracker{
		cfg:   cfg.withDefaults(),
		state: stateHealthy,
		now:   time.Now,
	}
}

// cooledDown must be called with mu held.
func (h *healthTracker) cooledDown() bool {
	return h.state == stateCooldown && !h.now().Before(h.cooldownExpires)
}

// IsAvailable reports whether the provider can accept requests.
func (h *healthTracker) IsAvailable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateHealthy || h.cooledDown()
}

// ShouldHealthCheck reports whether the provider needs an active health check.
func (h *healthTracker) ShouldHealthCheck() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateDead || h.cooledDown()
}

// RecordSuccess resets the tracker to healthy.
func (h *healthTracker) RecordSuccess() {
	h.mu.Lock()
	prev := h.state
	h.state = stateHealthy
	h.failures = 0
	h.currentBackoff = 0
	h.mu.Unlock()

	h.notify(prev, stateHealthy)
}

// RecordFailure moves the tracker to cooldown, doubling the backoff up to
// MaxBackoff, or to dead once MaxFailures is reached.
func (h *healthTracker) RecordFailure() {
	h.mu.Lock()
	prev := h.state
	h.failures++
	if h.failures >= h.cfg.MaxFailures {
		h.state = stateDead
	} else {
		h.state = stateCooldown
		h.currentBackoff = min(max(h.currentBackoff*2, h.cfg.InitialBackoff), h.cfg.MaxBackoff)
		h.cooldownExpires = h.now().Add(h.currentBackoff)
	}
	next := h.state
	h.mu.Unlock()

	h.notify(prev, next)
}

func (h *healthTracker) notify(from, to healthState) {
	if from != to && h.onStateChange != nil {
		h.onStateChange(from, to)
	}
}

func (h *healthTracker) State() healthState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *healthTracker) Failures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures
}

func (h *healthTracker) CurrentBackoff() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentBackoff
}
