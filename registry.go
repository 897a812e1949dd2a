// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cmdstream

import (
	"fmt"
	"sort"
	"sync"
)

// EngineFactory is a function that creates a new engine instance.
// Factories are registered via Register() and called by New().
type EngineFactory func() Engine

// Registry state - protected by mutex for thread-safe access.
var (
	registryMu sync.RWMutex
	engines    = make(map[string]EngineFactory)
)

// Register registers an engine factory with the given name.
// This function is typically called from init() in engine packages,
// following the database/sql driver pattern:
//
//	func init() {
//	    cmdstream.Register("wgpu", func() cmdstream.Engine {
//	        return NewEngine()
//	    })
//	}
//
// Register panics if:
//   - factory is nil
//   - an engine with the same name is already registered
//
// This ensures that duplicate registrations are caught early during
// program initialization rather than silently overwriting engines.
func Register(name string, factory EngineFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if factory == nil {
		panic("cmdstream: Register factory is nil")
	}
	if _, dup := engines[name]; dup {
		panic("cmdstream: Register called twice for " + name)
	}
	engines[name] = factory
}

// Unregister removes an engine from the registry.
// This is primarily useful for testing to clean up between tests.
// If the engine is not registered, this is a no-op.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(engines, name)
}

// New creates and initializes an engine instance by name.
// The name must match a previously registered engine.
//
// Example:
//
//	import _ "github.com/gogpu/cmdstream/engine/wgpu" // Register wgpu engine
//
//	engine, err := cmdstream.New("wgpu")
//	if err != nil {
//	    // Handle error - engine not registered or failed to initialize
//	}
//	defer engine.Close()
//
// Returns an error if the engine is not registered or if its Init fails.
// The not-registered error message includes a hint about forgotten imports.
// A factory may return nil to signal that the engine is compiled out of
// the current build (see the nowgpu tag); New reports that as an error.
func New(name string) (Engine, error) {
	registryMu.RLock()
	factory, ok := engines[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("cmdstream: unknown engine %q (forgotten import?)", name)
	}
	e := factory()
	if e == nil {
		return nil, fmt.Errorf("cmdstream: engine %q is not available in this build", name)
	}
	if err := e.Init(); err != nil {
		return nil, fmt.Errorf("cmdstream: init engine %q: %w", name, err)
	}
	return e, nil
}

// MustEngine creates and initializes an engine by name, panicking on error.
// This is useful when engine availability is guaranteed.
//
// Example:
//
//	engine := cmdstream.MustEngine("noop")
func MustEngine(name string) Engine {
	e, err := New(name)
	if err != nil {
		panic(err)
	}
	return e
}

// Engines returns a sorted list of registered engine names.
// The list is sorted alphabetically for consistent output.
func Engines() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if an engine with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := engines[name]
	return ok
}
