// Package providertest provides test doubles for the provider package.
package providertest

import (
	"context"
	"sync"

	"github.com/flemzord/ragchat/internal/provider"
)

// MockProvider is a configurable test double for provider.Provider.
// Unset Complete/Stream funcs panic on call; the metadata funcs fall back to
// fixed values. All methods are safe for concurrent use.
type MockProvider struct {
	CompleteFunc    func(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error)
	StreamFunc      func(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error)
	HealthCheckFunc func(ctx context.Context) error
	Model           string
	Window          int

	mu            sync.Mutex
	CompleteCalls int
	StreamCalls   int
	HealthCalls   int
	Requests      []provider.CompletionRequest
}

// Complete delegates to CompleteFunc and records the request.
func (m *MockProvider) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	m.mu.Lock()
	m.CompleteCalls++
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
	return m.CompleteFunc(ctx, req)
}

// Stream delegates to StreamFunc and records the request.
func (m *MockProvider) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
	m.mu.Lock()
	m.StreamCalls++
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
	return m.StreamFunc(ctx, req)
}

// ContextWindowSize returns Window, or 8192 when unset.
func (m *MockProvider) ContextWindowSize() int {
	if m.Window == 0 {
		return 8192
	}
	return m.Window
}

// ModelName returns Model, or "mock" when unset.
func (m *MockProvider) ModelName() string {
	if m.Model == "" {
		return "mock"
	}
	return m.Model
}

// HealthCheck delegates to HealthCheckFunc, succeeding when it is nil.
func (m *MockProvider) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	m.HealthCalls++
	m.mu.Unlock()
	if m.HealthCheckFunc == nil {
		return nil
	}
	return m.HealthCheckFunc(ctx)
}

// Calls returns the Complete and Stream call counts.
func (m *MockProvider) Calls() (complete, stream int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CompleteCalls, m.StreamCalls
}

// LastRequest returns the most recent request, if any.
func (m *MockProvider) LastRequest() (provider.CompletionRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return provider.CompletionRequest{}, false
	}
	return m.Requests[len(m.Requests)-1], true
}

// Reply returns a CompleteFunc that always answers with text.
func Reply(text string) func(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error) {
	return func(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error) {
		return provider.CompletionResponse{Content: text, FinishReason: provider.FinishReasonStop}, nil
	}
}

// Chunks returns a StreamFunc that emits each piece as a chunk, then closes.
// It stops early when ctx is done.
func Chunks(pieces ...string) func(context.Context, provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
	return func(ctx context.Context, _ provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
		ch := make(chan provider.StreamChunk)
		go func() {
			defer close(ch)
			for i, p := range pieces {
				chunk := provider.StreamChunk{Content: p}
				if i == len(pieces)-1 {
					chunk.FinishReason = provider.FinishReasonStop
				}
				select {
				case ch <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}()
		return ch, nil
	}
}

// Interface guards.
var (
	_ provider.Provider      = (*MockProvider)(nil)
	_ provider.HealthChecker = (*MockProvider)(nil)
)
