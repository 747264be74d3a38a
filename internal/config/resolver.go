package config

import (
	"maps"
	"slices"

	"github.com/flemzord/ragchat/internal/core"
)

// FrontendNamespace is the module namespace of client-facing surfaces.
const FrontendNamespace = "gateway"

// Resolve returns the configured module ids sorted. The reload handler
// compares this list to detect added or removed modules.
func Resolve(cfg *Config) []string {
	return slices.Sorted(maps.Keys(cfg.Modules))
}

// Phases splits ids into backends (providers, stores, retrieval) and
// frontends (gateways). Backends load first so the chat orchestrator can be
// wired from their services before any frontend looks it up. Both results
// keep the input order.
func Phases(ids []string) (backends, frontends []string) {
	for _, id := range ids {
		if core.ModuleID(id).Namespace() == FrontendNamespace {
			frontends = append(frontends, id)
		} else {
			backends = append(backends, id)
		}
	}
	return backends, frontends
}
