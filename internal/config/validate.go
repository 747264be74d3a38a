package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/flemzord/ragchat/internal/core"
)

// exclusiveNamespaces may have at most one configured module each.
var exclusiveNamespaces = []string{"retrieval", "store"}

// Validate checks the structural validity of a Config.
// It verifies the version field, the ambient sections, that every
// referenced module ID exists in the registry, that exactly one model
// provider is configured, and that exclusive namespaces are not doubled.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if _, err := cfg.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if f := cfg.Log.Format; f != "" && f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("config: log.format %q (want text or json)", f))
	}
	if err := cfg.Chat.WithDefaults().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("config: chat: %w", err))
	}
	if cfg.RAG.TopK < 0 || cfg.RAG.Timeout < 0 {
		errs = append(errs, errors.New("config: rag.top_k and rag.timeout must not be negative"))
	}
	if cfg.RAG.DistanceThreshold < 0 {
		errs = append(errs, errors.New("config: rag.distance_threshold must not be negative"))
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}

	if len(cfg.Modules) == 0 {
		errs = append(errs, errors.New("config: at least one module must be configured"))
	}

	byNamespace := make(map[string][]string)
	for id := range cfg.Modules {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
			continue
		}
		ns := core.ModuleID(id).Namespace()
		byNamespace[ns] = append(byNamespace[ns], id)
	}

	if len(cfg.Modules) > 0 && len(byNamespace["provider"]) != 1 {
		errs = append(errs, fmt.Errorf("config: exactly one provider module is required, found %d (available: %s)",
			len(byNamespace["provider"]), strings.Join(compiled("provider"), ", ")))
	}
	for _, ns := range exclusiveNamespaces {
		if ids := byNamespace[ns]; len(ids) > 1 {
			slices.Sort(ids)
			errs = append(errs, fmt.Errorf("config: at most one %s module may be configured, found %s", ns, strings.Join(ids, ", ")))
		}
	}

	return errors.Join(errs...)
}

// compiled lists the IDs of the modules built into the binary for ns.
func compiled(ns string) []string {
	var ids []string
	for _, info := range core.GetModulesByNamespace(ns) {
		ids = append(ids, string(info.ID))
	}
	return ids
}
