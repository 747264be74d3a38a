package core

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// registry holds the modules compiled into the binary. Module packages add
// themselves from init, so the set is fixed before main runs.
var registry = struct {
	sync.RWMutex
	byID map[string]ModuleInfo
}{byID: make(map[string]ModuleInfo)}

// RegisterModule records instance's ModuleInfo. It panics on an empty ID, a
// nil constructor or a duplicate ID, which are all build mistakes.
func RegisterModule(instance Module) {
	info := instance.ModuleInfo()
	switch {
	case info.ID == "":
		panic("core: module ID must not be empty")
	case info.New == nil:
		panic(fmt.Sprintf("core: module %s has no constructor", info.ID))
	}

	registry.Lock()
	defer registry.Unlock()
	if _, dup := registry.byID[string(info.ID)]; dup {
		panic(fmt.Sprintf("core: module %s registered twice", info.ID))
	}
	registry.byID[string(info.ID)] = info
}

// GetModule looks up a compiled module by ID.
func GetModule(id string) (ModuleInfo, bool) {
	registry.RLock()
	defer registry.RUnlock()
	info, ok := registry.byID[id]
	return info, ok
}

// GetModules lists every compiled module sorted by ID, as printed by
// `ragchat version`.
func GetModules() []ModuleInfo {
	return modulesWhere(func(ModuleInfo) bool { return true })
}

// GetModulesByNamespace lists the compiled modules of one namespace, such
// as every "retrieval" backend, sorted by ID.
func GetModulesByNamespace(namespace string) []ModuleInfo {
	return modulesWhere(func(info ModuleInfo) bool {
		return info.ID.Namespace() == namespace
	})
}

func modulesWhere(keep func(ModuleInfo) bool) []ModuleInfo {
	registry.RLock()
	defer registry.RUnlock()

	out := slices.SortedFunc(maps.Values(registry.byID), func(a, b ModuleInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return slices.DeleteFunc(out, func(info ModuleInfo) bool { return !keep(info) })
}

// resetRegistry clears the registry between tests.
func resetRegistry() {
	registry.Lock()
	defer registry.Unlock()
	registry.byID = make(map[string]ModuleInfo)
}
