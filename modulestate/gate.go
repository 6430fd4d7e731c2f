package modulestate

import (
	"context"

	"github.com/Tzeusy/butlers-sub006/module"
)

const disabledErrorCode = "module_disabled"

// Gate wraps a module.ToolRegistrar so every tool registered through it
// consults the registry before invoking the underlying handler. A module
// whose state is disabled or unhealthy returns a structured
// {error, module, message} result instead of running; toggling enabled
// changes behavior for every subsequent call with no restart.
type Gate struct {
	registry   *Registry
	moduleName string
	inner      module.ToolRegistrar
}

// NewGate returns a ToolRegistrar that gates every tool it registers behind
// moduleName's runtime state in registry. Core tools with no owning module
// should register directly against the underlying registrar instead of
// through a Gate.
func NewGate(registry *Registry, moduleName string, inner module.ToolRegistrar) *Gate {
	return &Gate{registry: registry, moduleName: moduleName, inner: inner}
}

// RegisterTool implements module.ToolRegistrar. A module name with no entry
// in the registry at all (the registry was never told about it — the core
// "unowned tool" case) passes through ungated, matching the reference
// daemon's gating proxy: only a module the registry actually knows about
// can be disabled or unhealthy.
func (g *Gate) RegisterTool(name string, handler func(ctx context.Context, input map[string]any) (any, error)) {
	g.inner.RegisterTool(name, func(ctx context.Context, input map[string]any) (any, error) {
		state, ok := g.registry.Get(g.moduleName)
		if ok && (!state.Enabled || state.Health != HealthActive) {
			return map[string]any{
				"error":   disabledErrorCode,
				"module":  g.moduleName,
				"message": "The " + g.moduleName + " module is disabled. Enable it from the dashboard.",
			}, nil
		}
		return handler(ctx, input)
	})
}
