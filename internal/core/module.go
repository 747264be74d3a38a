package core

import (
	"context"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModuleID names a module as "namespace.name", e.g. "provider.openai_compatible".
type ModuleID string

// Namespace returns the part of the ID before the first dot.
func (id ModuleID) Namespace() string {
	ns, _, _ := strings.Cut(string(id), ".")
	return ns
}

// Name returns the part of the ID after the first dot, or the whole ID when
// it has no namespace.
func (id ModuleID) Name() string {
	_, name, ok := strings.Cut(string(id), ".")
	if !ok {
		return string(id)
	}
	return name
}

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	ID ModuleID

	// New returns a fresh, unconfigured instance.
	New func() Module
}

// Module is implemented by every pluggable component. The optional
// interfaces below are checked in the order LoadModule and App call them:
// Configure, Provision, Validate, then Start, Reload and Stop.
type Module interface {
	ModuleInfo() ModuleInfo
}

// Configurable modules decode their section of the "modules" map, e.g. the
// provider list of provider.openai_compatible.
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner modules open their resources and register services on the
// AppContext: store.sqlite registers "session.journal",
// retrieval.sqlite and retrieval.http register "retrieval.retriever".
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator modules check their configuration after Provision. A failing
// Validate aborts startup before anything listens. It must not mutate state.
type Validator interface {
	Validate() error
}

// Starter modules begin background work once every module is provisioned:
// provider health checks, the HTTP listener.
type Starter interface {
	Start() error
}

// Stopper modules release resources. Stop runs in reverse load order, so
// gateways drain before the orchestrator, which finishes pending
// compactions before the session journal closes.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Reloader modules apply a new configuration without restarting. The
// gateway reloads auth tokens and rate limits this way.
type Reloader interface {
	Reload(ctx *AppContext) error
}
