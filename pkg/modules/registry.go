// Package modules provides the module registry the task executor
// dispatches through. A module is an in-process function from string
// arguments to a task result; real remote modules are supplied by
// callers through the same contract. The registry is an explicit
// object passed into the executor, never process-global state, so
// isolated tests and concurrent runs can each carry their own.
package modules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/stagehand/stagehand/pkg/playbook"
)

// ErrModuleNotFound indicates a dispatch on an unregistered module
// name. The executor converts it into a FAILED task result; it never
// escapes the engine.
var ErrModuleNotFound = errors.New("module not found")

// IsModuleNotFound reports whether err wraps ErrModuleNotFound.
func IsModuleNotFound(err error) bool { return errors.Is(err, ErrModuleNotFound) }

// Func is a module body: it receives the task's arguments and returns
// a task result. Returning an error (or panicking) is recovered by the
// executor into a FAILED result.
type Func func(ctx context.Context, args map[string]string) (playbook.TaskResult, error)

// entry pairs a module's apply function with its check-mode variant.
type entry struct {
	apply Func
	check Func
}

// Registry maps module names to their functions. Registration must
// happen before any execution begins; lookups are safe for concurrent
// use during a run.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register registers a module under name. The module gets a default
// check-mode variant that reports nothing would change; use
// RegisterWithCheck for modules that can predict their changes.
// Registering an already-registered name is an error.
func (r *Registry) Register(name string, fn Func) error {
	return r.RegisterWithCheck(name, fn, nil)
}

// RegisterWithCheck registers a module together with a side-effect-free
// check function that reports the changes apply would make. A nil
// check falls back to a default that reports no change.
func (r *Registry) RegisterWithCheck(name string, apply, check Func) error {
	if name == "" {
		return fmt.Errorf("module name is required")
	}
	if apply == nil {
		return fmt.Errorf("module %s: function is required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("module %s is already registered", name)
	}
	if check == nil {
		check = defaultCheck(name)
	}
	r.entries[name] = entry{apply: apply, check: check}
	return nil
}

// Get returns the module registered under name.
func (r *Registry) Get(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	return e.apply, nil
}

// Names returns all registered module names in ascending order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckMode returns a registry exposing every module's check function
// in place of its apply function. Substituting this registry is how
// dry runs are implemented: the orchestrator itself has no check-mode
// code path.
func (r *Registry) CheckMode() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	checked := NewRegistry()
	for name, e := range r.entries {
		checked.entries[name] = entry{apply: e.check, check: e.check}
	}
	return checked
}

// defaultCheck reports that the module was not invoked in check mode.
func defaultCheck(name string) Func {
	return func(_ context.Context, _ map[string]string) (playbook.TaskResult, error) {
		return playbook.Unchanged(fmt.Sprintf("%s: check mode, no changes reported", name)), nil
	}
}
