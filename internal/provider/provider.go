package provider

import "context"

// Provider is the interface for communicating with a generative model.
// Concrete implementations live under modules/provider and also implement
// core.Module for lifecycle management.
type Provider interface {
	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// Stream sends a completion request and returns a channel of chunks.
	// Connection errors are returned directly; mid-stream errors arrive as
	// StreamChunk.Err. Implementations must stop sending and close the
	// channel once ctx is done.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)

	// ContextWindowSize returns the maximum context window in tokens.
	ContextWindowSize() int

	// ModelName returns the identifier of the underlying model.
	ModelName() string
}

// HealthChecker is an optional interface for providers that can report their own health.
// The chain calls it for providers in cooldown or marked dead.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
