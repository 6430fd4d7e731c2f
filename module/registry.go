package module

import (
	"context"
	"fmt"
	"sort"
)

// ConfigError reports a registry-level wiring problem: an unknown
// dependency or a dependency cycle. Both fail registry construction hard —
// a butler never starts with a partially-resolvable module set.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return "config error: " + e.Message }

// Registry resolves a set of Modules into a dependency-ordered start/stop
// sequence via Kahn's algorithm.
type Registry struct {
	byName  map[string]Module
	ordered []Module
}

// NewRegistry builds a Registry from modules, resolving the dependency DAG.
// Returns *ConfigError if a dependency name is unknown or a cycle exists.
func NewRegistry(modules []Module) (*Registry, error) {
	byName := make(map[string]Module, len(modules))
	for _, m := range modules {
		if _, dup := byName[m.Name()]; dup {
			return nil, &ConfigError{Message: fmt.Sprintf("duplicate module name %q", m.Name())}
		}
		byName[m.Name()] = m
	}

	for _, m := range modules {
		for _, dep := range m.Dependencies() {
			if _, ok := byName[dep]; !ok {
				return nil, &ConfigError{Message: fmt.Sprintf("module %q depends on unknown module %q", m.Name(), dep)}
			}
		}
	}

	ordered, err := topoSort(modules)
	if err != nil {
		return nil, err
	}

	return &Registry{byName: byName, ordered: ordered}, nil
}

// topoSort implements Kahn's algorithm: repeatedly remove nodes with
// in-degree zero. Ties are broken by module name so the order is
// deterministic across runs, which matters for reproducible startup logs.
func topoSort(modules []Module) ([]Module, error) {
	inDegree := make(map[string]int, len(modules))
	dependents := make(map[string][]string, len(modules))
	byName := make(map[string]Module, len(modules))

	for _, m := range modules {
		byName[m.Name()] = m
		if _, ok := inDegree[m.Name()]; !ok {
			inDegree[m.Name()] = 0
		}
	}
	for _, m := range modules {
		for _, dep := range m.Dependencies() {
			inDegree[m.Name()]++
			dependents[dep] = append(dependents[dep], m.Name())
		}
	}

	var ready []string
	for name, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var ordered []Module
	for len(ready) > 0 {
		sort.Strings(ready)
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byName[name])

		next := append([]string(nil), dependents[name]...)
		sort.Strings(next)
		for _, dep := range next {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(ordered) != len(modules) {
		var cyclic []string
		for name, deg := range inDegree {
			if deg > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, &ConfigError{Message: fmt.Sprintf("dependency cycle detected among modules: %v", cyclic)}
	}

	return ordered, nil
}

// Ordered returns modules in topological (startup) order.
func (r *Registry) Ordered() []Module {
	return r.ordered
}

// ReverseOrdered returns modules in reverse topological (shutdown) order.
func (r *Registry) ReverseOrdered() []Module {
	out := make([]Module, len(r.ordered))
	for i, m := range r.ordered {
		out[len(r.ordered)-1-i] = m
	}
	return out
}

// Get looks up a registered module by name.
func (r *Registry) Get(name string) (Module, bool) {
	m, ok := r.byName[name]
	return m, ok
}

// StartAll calls start for every module in dependency order, stopping at
// the first failure. Already-started modules are not rolled back here; the
// caller (daemon orchestrator) decides whether to shut the partial set down.
func (r *Registry) StartAll(ctx context.Context, start func(m Module) error) error {
	for _, m := range r.ordered {
		if err := start(m); err != nil {
			return fmt.Errorf("module %q failed to start: %w", m.Name(), err)
		}
	}
	return nil
}

// ShutdownAll runs OnShutdown on every module in reverse dependency order,
// collecting (not short-circuiting on) individual failures.
func (r *Registry) ShutdownAll(ctx context.Context) []error {
	var errs []error
	for _, m := range r.ReverseOrdered() {
		if err := m.OnShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("module %q failed to shut down: %w", m.Name(), err))
		}
	}
	return errs
}
