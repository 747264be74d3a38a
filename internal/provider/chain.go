// Package provider defines the Provider interface for talking to generative
// models, health tracking with exponential backoff, and a failover chain that
// routes requests by role.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// nopHandler is a slog.Handler that discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// ChainEntry configures a single provider in the chain.
type ChainEntry struct {
	Name        string
	Provider    Provider
	Role        Role
	Auth        *AuthProfile
	Health      HealthConfig
	FallbackFor []Role // empty = fallback for all roles
}

type chainEntry struct {
	ChainEntry
	health *healthTracker
}

// EntryStatus is a point-in-time view of one chain entry.
type EntryStatus struct {
	Name     string `json:"name"`
	Role     Role   `json:"role"`
	Model    string `json:"model"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

// ChainOption configures optional Chain behavior.
type ChainOption func(*Chain)

// WithLogger injects a structured logger into the Chain.
// When nil or omitted, all log output is discarded.
func WithLogger(l *slog.Logger) ChainOption {
	return func(c *Chain) { c.logger = l }
}

// Chain orchestrates failover across multiple providers. It is not itself a
// Provider: callers pick a Role and the chain tries matching entries first,
// then fallbacks, skipping any entry whose health tracker is backing off.
type Chain struct {
	entries []chainEntry
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewChain creates a chain from the given entries.
func NewChain(entries []ChainEntry, opts ...ChainOption) (*Chain, error) {
	if len(entries) == 0 {
		return nil, ErrNoProvider
	}

	c := &Chain{entries: make([]chainEntry, len(entries))}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(nopHandler{})
	}

	for i, e := range entries {
		if e.Provider == nil {
			return nil, fmt.Errorf("%w: entry %q has nil provider", ErrNoProvider, e.Name)
		}
		c.entries[i] = chainEntry{ChainEntry: e, health: newHealthTracker(e.Health)}
		c.entries[i].health.onStateChange = c.stateLogger(e.Name, c.entries[i].health)
	}
	return c, nil
}

func (pc *Chain) stateLogger(name string, h *healthTracker) func(from, to healthState) {
	return func(from, to healthState) {
		switch to {
		case stateCooldown:
			pc.logger.Warn("provider entered cooldown",
				"provider", name,
				"backoff", h.CurrentBackoff(),
				"failures", h.Failures(),
			)
		case stateDead:
			pc.logger.Error("provider marked dead",
				"provider", name,
				"total_failures", h.Failures(),
			)
		case stateHealthy:
			pc.logger.Info("provider revived",
				"provider", name,
				"previous_state", from.String(),
			)
		}
	}
}

// Start launches the background health check loop.
func (pc *Chain) Start(ctx context.Context) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.cancel != nil {
		return
	}
	ctx, pc.cancel = context.WithCancel(ctx)
	go runHealthChecks(ctx, minHealthCheckInterval(pc.entries), pc.entries)
}

// Stop cancels background health checks.
func (pc *Chain) Stop() {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.cancel != nil {
		pc.cancel()
		pc.cancel = nil
	}
}

// Complete sends a completion request to the best available provider
// for the given role, with automatic failover.
func (pc *Chain) Complete(ctx context.Context, role Role, req CompletionRequest) (CompletionResponse, error) {
	return failover(ctx, pc, role, func(e *chainEntry) (CompletionResponse, error) {
		resp, err := e.Provider.Complete(ctx, req)
		if err == nil {
			e.health.RecordSuccess()
		}
		return resp, err
	})
}

// Stream sends a streaming completion request to the best available provider
// for the given role. Failover only happens before the first chunk; once a
// stream is open, its errors are delivered in-band.
func (pc *Chain) Stream(ctx context.Context, role Role, req CompletionRequest) (<-chan StreamChunk, error) {
	return failover(ctx, pc, role, func(e *chainEntry) (<-chan StreamChunk, error) {
		ch, err := e.Provider.Stream(ctx, req)
		if err != nil {
			return nil, err
		}
		return pc.wrapStream(ctx, ch, e), nil
	})
}

// failover walks the candidates for role and returns the first successful
// attempt. Non-retryable errors end the walk immediately.
func failover[T any](ctx context.Context, pc *Chain, role Role, attempt func(*chainEntry) (T, error)) (T, error) {
	var zero T

	candidates := pc.candidates(role)
	if len(candidates) == 0 {
		return zero, fmt.Errorf("%w for role %q", ErrNoProvider, role)
	}

	var lastErr error
	for _, e := range candidates {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if !e.health.IsAvailable() {
			continue
		}

		out, err := attempt(e)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return zero, err
		}

		if IsRateLimit(err) && e.Auth != nil && e.Auth.Rotate() {
			pc.logger.Info("auth key rotated",
				"provider", e.Name,
				"key_index", e.Auth.CurrentIndex(),
			)
		}
		e.health.RecordFailure()

		pc.logger.Warn("provider failed, failing over",
			"provider", e.Name,
			"error", err,
		)
	}

	pc.logger.Error("all providers exhausted", "role", role, "last_error", lastErr)
	if lastErr != nil {
		return zero, fmt.Errorf("%w: last error: %w", ErrAllProviders, lastErr)
	}
	return zero, fmt.Errorf("%w for role %q: all candidates unavailable", ErrAllProviders, role)
}

// wrapStream forwards chunks while deferring the health verdict to the end of
// the stream. It stops forwarding as soon as ctx is done so an abandoned
// consumer never leaks the goroutine.
func (pc *Chain) wrapStream(ctx context.Context, src <-chan StreamChunk, e *chainEntry) <-chan StreamChunk {
	out := make(chan StreamChunk, cap(src))
	go func() {
		defer close(out)
		var degraded bool
		for chunk := range src {
			if chunk.Err != nil && IsRetryable(chunk.Err) {
				degraded = true
				e.health.RecordFailure()
				pc.logger.Warn("mid-stream error degraded provider health",
					"provider", e.Name,
					"error", chunk.Err,
				)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				// Drain so the provider goroutine can exit.
				for range src {
				}
				return
			}
		}
		if !degraded && ctx.Err() == nil {
			e.health.RecordSuccess()
		}
	}()
	return out
}

// HasRole reports whether at least one entry (direct or fallback) serves role.
func (pc *Chain) HasRole(role Role) bool {
	return len(pc.candidates(role)) > 0
}

// Status reports the health of every entry in configuration order.
func (pc *Chain) Status() []EntryStatus {
	out := make([]EntryStatus, len(pc.entries))
	for i := range pc.entries {
		e := &pc.entries[i]
		out[i] = EntryStatus{
			Name:     e.Name,
			Role:     e.Role,
			Model:    e.Provider.ModelName(),
			State:    e.health.State().String(),
			Failures: e.health.Failures(),
		}
	}
	return out
}

// candidates returns chain entries matching the given role.
// Direct role matches come first, then fallback entries.
func (pc *Chain) candidates(role Role) []*chainEntry {
	var direct, fallbacks []*chainEntry
	for i := range pc.entries {
		e := &pc.entries[i]
		switch {
		case e.Role == role:
			direct = append(direct, e)
		case e.Role == RoleFallback && fallbackCovers(e, role):
			fallbacks = append(fallbacks, e)
		}
	}
	return append(direct, fallbacks...)
}

func fallbackCovers(e *chainEntry, role Role) bool {
	if len(e.FallbackFor) == 0 {
		return true
	}
	for _, r := range e.FallbackFor {
		if r == role {
			return true
		}
	}
	return false
}

func minHealthCheckInterval(entries []chainEntry) time.Duration {
	interval := defaultCheckInterval
	for i := range entries {
		if d := entries[i].Health.checkIntervalOrDefault(); i == 0 || d < interval {
			interval = d
		}
	}
	return interval
}

// runHealthChecks checks dead and cooled-down providers until ctx is done.
func runHealthChecks(ctx context.Context, interval time.Duration, entries []chainEntry) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i := range entries {
				e := &entries[i]
				if !e.health.ShouldHealthCheck() {
					continue
				}
				checker, ok := e.Provider.(HealthChecker)
				if !ok {
					continue
				}
				if err := checker.HealthCheck(ctx); err == nil {
					e.health.RecordSuccess()
				}
			}
		}
	}
}
