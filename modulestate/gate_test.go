package modulestate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeToolRegistrar struct {
	handlers map[string]func(ctx context.Context, input map[string]any) (any, error)
}

func newFakeToolRegistrar() *fakeToolRegistrar {
	return &fakeToolRegistrar{handlers: make(map[string]func(ctx context.Context, input map[string]any) (any, error))}
}

func (f *fakeToolRegistrar) RegisterTool(name string, handler func(ctx context.Context, input map[string]any) (any, error)) {
	f.handlers[name] = handler
}

func TestGate_BlocksCallWhenModuleDisabled(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	require.NoError(t, r.MarkActive(context.Background(), "telegram", true))
	_, err := r.SetEnabled(context.Background(), "telegram", false)
	require.NoError(t, err)

	inner := newFakeToolRegistrar()
	called := false
	NewGate(r, "telegram", inner).RegisterTool("telegram.send", func(ctx context.Context, input map[string]any) (any, error) {
		called = true
		return "ok", nil
	})

	result, err := inner.handlers["telegram.send"](context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, called)

	out, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, disabledErrorCode, out["error"])
	assert.Equal(t, "telegram", out["module"])
	assert.NotEmpty(t, out["message"])
}

func TestGate_BlocksCallWhenModuleUnhealthy(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	r.MarkStartupFailed("email", "on_startup", "boom")

	inner := newFakeToolRegistrar()
	NewGate(r, "email", inner).RegisterTool("email.send", func(ctx context.Context, input map[string]any) (any, error) {
		return "ok", nil
	})

	result, err := inner.handlers["email.send"](context.Background(), nil)
	require.NoError(t, err)
	out := result.(map[string]any)
	assert.Equal(t, disabledErrorCode, out["error"])
}

func TestGate_PassesThroughWhenModuleNeverRegistered(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	inner := newFakeToolRegistrar()
	NewGate(r, "ghost", inner).RegisterTool("ghost.act", func(ctx context.Context, input map[string]any) (any, error) {
		return "ok", nil
	})

	result, err := inner.handlers["ghost.act"](context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestGate_InvokesHandlerWhenModuleEnabledAndActive(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	require.NoError(t, r.MarkActive(context.Background(), "telegram", true))

	inner := newFakeToolRegistrar()
	NewGate(r, "telegram", inner).RegisterTool("telegram.send", func(ctx context.Context, input map[string]any) (any, error) {
		return map[string]any{"sent": true}, nil
	})

	result, err := inner.handlers["telegram.send"](context.Background(), map[string]any{"to": "abc"})
	require.NoError(t, err)
	out := result.(map[string]any)
	assert.Equal(t, true, out["sent"])
}

func TestGate_ToggleTakesEffectForNextCallWithoutRestart(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	require.NoError(t, r.MarkActive(context.Background(), "telegram", true))

	inner := newFakeToolRegistrar()
	NewGate(r, "telegram", inner).RegisterTool("telegram.send", func(ctx context.Context, input map[string]any) (any, error) {
		return "ok", nil
	})

	result, _ := inner.handlers["telegram.send"](context.Background(), nil)
	assert.Equal(t, "ok", result)

	_, err := r.SetEnabled(context.Background(), "telegram", false)
	require.NoError(t, err)

	result, _ = inner.handlers["telegram.send"](context.Background(), nil)
	out := result.(map[string]any)
	assert.Equal(t, disabledErrorCode, out["error"])

	_, err = r.SetEnabled(context.Background(), "telegram", true)
	require.NoError(t, err)

	result, _ = inner.handlers["telegram.send"](context.Background(), nil)
	assert.Equal(t, "ok", result)
}
