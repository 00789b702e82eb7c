package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string) Tool {
	return NewFuncTool(name, "echoes its arguments", nil, func(ctx context.Context, args map[string]any) (any, error) {
		return args, nil
	})
}

func failingTool(name string) Tool {
	return NewFuncTool(name, "always fails", nil, func(ctx context.Context, args map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
}

func TestRegistry_RegisterRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Register("t1", echoTool("echo")))
	assert.Error(t, reg.Register("t1", echoTool("other")), "duplicate id")
	assert.Error(t, reg.Register("t2", echoTool("echo")), "duplicate name")
	assert.Error(t, reg.Register("", echoTool("x")), "empty id")
}

func TestRegistry_RegisterUnregisterRegister(t *testing.T) {
	reg := NewRegistry()
	tool := echoTool("echo")

	require.NoError(t, reg.Register("t1", tool))
	removed := reg.Unregister("t1")
	require.Same(t, tool, removed.(*FuncTool))
	assert.Nil(t, reg.Unregister("t1"), "second unregister is a no-op")

	// Re-registering after unregister must succeed.
	require.NoError(t, reg.Register("t1", tool))

	got, ok := reg.Get("t1")
	require.True(t, ok)
	assert.Equal(t, "echo", got.Info().Name)

	byName, ok := reg.GetByName("echo")
	require.True(t, ok)
	assert.Same(t, got.(*FuncTool), byName.(*FuncTool))
}

func TestRegistry_ExecuteSuccess(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("t1", echoTool("echo")))

	res, err := reg.Execute(context.Background(), "t1", map[string]any{"msg": "hi"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.ExecutionID)
	assert.Equal(t, map[string]any{"msg": "hi"}, res.Output)
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Execute(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRegistry_ExecuteFailure(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("f", failingTool("fail")))

	res, err := reg.Execute(context.Background(), "f", nil)
	require.NoError(t, err, "tool failure is reported in the result, not as a call error")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "boom")
}

func TestRegistry_LifecycleEvents(t *testing.T) {
	reg := NewRegistry()

	var mu sync.Mutex
	var seen []LifecycleEvent
	reg.AddListener(func(event LifecycleEvent, toolID string, info Info) {
		mu.Lock()
		seen = append(seen, event)
		mu.Unlock()
	})
	// A panicking listener must not affect the others or the operation.
	reg.AddListener(func(event LifecycleEvent, toolID string, info Info) {
		panic("listener bug")
	})

	require.NoError(t, reg.Register("t1", echoTool("echo")))
	_, err := reg.Execute(context.Background(), "t1", nil)
	require.NoError(t, err)
	reg.Unregister("t1")

	require.NoError(t, reg.Register("f", failingTool("fail")))
	_, err = reg.Execute(context.Background(), "f", nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []LifecycleEvent{
		ToolRegistered, ToolExecuted, ToolUnregistered, ToolRegistered, ToolFailed,
	}, seen)
}

func TestRegistry_CreateComposite(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Register("double", NewFuncTool("double", "", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			n, _ := args["input"].(float64)
			if v, ok := args["n"].(float64); ok {
				n = v
			}
			return n * 2, nil
		})))
	require.NoError(t, reg.Register("inc", NewFuncTool("inc", "", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			n, _ := args["input"].(float64)
			return n + 1, nil
		})))

	pipe, err := reg.CreateComposite("pipe", "double then inc", []string{"double", "inc"})
	require.NoError(t, err)

	res, err := pipe.Execute(context.Background(), map[string]any{"n": float64(5)})
	require.NoError(t, err)
	assert.Equal(t, float64(11), res.Data)

	_, err = reg.CreateComposite("bad", "", []string{"nope"})
	assert.Error(t, err)
}

func TestRegistry_CompositeStopsOnFailure(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("f", failingTool("fail")))

	called := false
	require.NoError(t, reg.Register("after", NewFuncTool("after", "", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			called = true
			return nil, nil
		})))

	pipe, err := reg.CreateComposite("pipe", "", []string{"f", "after"})
	require.NoError(t, err)

	_, err = pipe.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.False(t, called, "downstream stage must not run after a failed stage")
}

func TestRegistry_CreateParallel(t *testing.T) {
	reg := NewRegistry()

	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("branch%d", i)
		require.NoError(t, reg.Register(name, NewFuncTool(name, "", nil,
			func(ctx context.Context, args map[string]any) (any, error) {
				return name, nil
			})))
	}

	par, err := reg.CreateParallel("fan", "", []string{"branch0", "branch1", "branch2"})
	require.NoError(t, err)

	res, err := par.Execute(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, true, res.Metadata["async"])

	merged, ok := res.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "branch0", merged["branch0"])
	assert.Equal(t, "branch1", merged["branch1"])
	assert.Equal(t, "branch2", merged["branch2"])
}

func TestRegistry_ParallelFailure(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("ok", echoTool("ok")))
	require.NoError(t, reg.Register("f", failingTool("fail")))

	par, err := reg.CreateParallel("fan", "", []string{"ok", "f"})
	require.NoError(t, err)

	res, err := par.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, StatusError, res.Status)
}

func TestFuncTool_SchemaValidationGate(t *testing.T) {
	schema := NewSchema().WithField("q", &Field{Type: TypeString, Required: true})

	invoked := false
	tool := NewFuncTool("search", "", schema, func(ctx context.Context, args map[string]any) (any, error) {
		invoked = true
		return "ok", nil
	})

	res, err := tool.Execute(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.False(t, invoked, "function must not run with invalid arguments")

	res, err = tool.Execute(context.Background(), map[string]any{"q": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Data)
}

func TestRegistry_List(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("b", echoTool("beta")))
	require.NoError(t, reg.Register("a", echoTool("alpha")))

	infos := reg.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Equal(t, "beta", infos[1].Name)
}
