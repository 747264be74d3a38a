package core

import "sync"

// services is shared by an AppContext and every copy derived from it, so a
// service registered while provisioning one module is visible to the next.
type services struct {
	mu sync.RWMutex
	m  map[string]any
}

// RegisterService publishes svc under name, replacing any previous value.
func (ctx *AppContext) RegisterService(name string, svc any) {
	ctx.services.mu.Lock()
	defer ctx.services.mu.Unlock()
	ctx.services.m[name] = svc
}

// GetService returns the service registered under name.
func (ctx *AppContext) GetService(name string) (any, bool) {
	ctx.services.mu.RLock()
	defer ctx.services.mu.RUnlock()
	svc, ok := ctx.services.m[name]
	return svc, ok
}

// Service returns the service registered under name when it has type T.
func Service[T any](ctx *AppContext, name string) (T, bool) {
	svc, ok := ctx.GetService(name)
	if !ok {
		var zero T
		return zero, false
	}
	v, ok := svc.(T)
	return v, ok
}
