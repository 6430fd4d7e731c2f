package module

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Tzeusy/butlers-sub006/credential"
)

type stubModule struct {
	name string
	deps []string
}

func (s *stubModule) Name() string                 { return s.name }
func (s *stubModule) ConfigSchema() map[string]any  { return nil }
func (s *stubModule) Dependencies() []string        { return s.deps }
func (s *stubModule) CredentialsEnv() []string      { return nil }
func (s *stubModule) UserInputs() []IODescriptor    { return nil }
func (s *stubModule) UserOutputs() []IODescriptor   { return nil }
func (s *stubModule) BotInputs() []IODescriptor     { return nil }
func (s *stubModule) BotOutputs() []IODescriptor    { return nil }
func (s *stubModule) MigrationRevisions() string    { return "" }
func (s *stubModule) RegisterTools(ToolRegistrar, map[string]any, *gorm.DB) error { return nil }
func (s *stubModule) OnStartup(context.Context, map[string]any, *gorm.DB, *credential.Store) error {
	return nil
}
func (s *stubModule) OnShutdown(context.Context) error { return nil }

func TestNewRegistry_OrdersByDependency(t *testing.T) {
	a := &stubModule{name: "a"}
	b := &stubModule{name: "b", deps: []string{"a"}}
	c := &stubModule{name: "c", deps: []string{"a", "b"}}

	reg, err := NewRegistry([]Module{c, b, a})
	require.NoError(t, err)

	var names []string
	for _, m := range reg.Ordered() {
		names = append(names, m.Name())
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestNewRegistry_ReverseOrderedIsShutdownOrder(t *testing.T) {
	a := &stubModule{name: "a"}
	b := &stubModule{name: "b", deps: []string{"a"}}

	reg, err := NewRegistry([]Module{a, b})
	require.NoError(t, err)

	var names []string
	for _, m := range reg.ReverseOrdered() {
		names = append(names, m.Name())
	}
	assert.Equal(t, []string{"b", "a"}, names)
}

func TestNewRegistry_UnknownDependencyFailsConfig(t *testing.T) {
	a := &stubModule{name: "a", deps: []string{"ghost"}}

	_, err := NewRegistry([]Module{a})
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
}

func TestNewRegistry_CycleFailsConfig(t *testing.T) {
	a := &stubModule{name: "a", deps: []string{"b"}}
	b := &stubModule{name: "b", deps: []string{"a"}}

	_, err := NewRegistry([]Module{a, b})
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
}

func TestNewRegistry_DuplicateNameFailsConfig(t *testing.T) {
	a1 := &stubModule{name: "a"}
	a2 := &stubModule{name: "a"}

	_, err := NewRegistry([]Module{a1, a2})
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
}

func TestRegistry_StartAllStopsOnFirstFailure(t *testing.T) {
	a := &stubModule{name: "a"}
	b := &stubModule{name: "b", deps: []string{"a"}}

	reg, err := NewRegistry([]Module{a, b})
	require.NoError(t, err)

	var started []string
	startErr := reg.StartAll(context.Background(), func(m Module) error {
		started = append(started, m.Name())
		if m.Name() == "a" {
			return assert.AnError
		}
		return nil
	})

	require.Error(t, startErr)
	assert.Equal(t, []string{"a"}, started)
}
