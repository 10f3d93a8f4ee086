package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(ctx context.Context, params map[string]any) (map[string]any, error) {
	return nil, nil
}

// =============================================================================
// TOOL EXECUTOR TESTS
// =============================================================================

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name    string
		def     *ToolDefinition
		wantErr string
	}{
		{"missing name", &ToolDefinition{Handler: noopHandler}, "name is required"},
		{"missing handler", &ToolDefinition{Name: "broken_tool"}, "broken_tool has no handler"},
		{"valid", &ToolDefinition{Name: "ok", Handler: noopHandler}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewToolExecutor().Register(tt.def)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExecuteTool(t *testing.T) {
	executor := NewToolExecutor()
	require.NoError(t, executor.Register(&ToolDefinition{
		Name: "echo_tool",
		Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			return map[string]any{"echo": params["input"]}, nil
		},
	}))

	result, err := executor.Execute(context.Background(), "echo_tool", map[string]any{"input": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", result["echo"])
}

func TestExecuteToolNotFound(t *testing.T) {
	result, err := NewToolExecutor().Execute(context.Background(), "nonexistent_tool", nil)

	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.Contains(t, err.Error(), "nonexistent_tool")
}

func TestExecuteToolErrorIsWrapped(t *testing.T) {
	boom := errors.New("tool execution failed")
	executor := NewToolExecutor()
	require.NoError(t, executor.Register(&ToolDefinition{
		Name: "error_tool",
		Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			return nil, boom
		},
	}))

	_, err := executor.Execute(context.Background(), "error_tool", nil)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "error_tool")
}

func TestExecuteAppliesToolTimeout(t *testing.T) {
	executor := NewToolExecutor()
	require.NoError(t, executor.Register(&ToolDefinition{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))

	_, err := executor.Execute(context.Background(), "slow", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHasAndList(t *testing.T) {
	executor := NewToolExecutor()
	assert.Empty(t, executor.List())
	assert.False(t, executor.Has("tool_a"))

	for _, name := range []string{"tool_c", "tool_a", "tool_b"} {
		require.NoError(t, executor.Register(&ToolDefinition{Name: name, Handler: noopHandler}))
	}

	assert.True(t, executor.Has("tool_a"))
	assert.Equal(t, []string{"tool_a", "tool_b", "tool_c"}, executor.List())
}

func TestToolOverwrite(t *testing.T) {
	executor := NewToolExecutor()

	version := func(v int) ToolHandler {
		return func(ctx context.Context, params map[string]any) (map[string]any, error) {
			return map[string]any{"version": v}, nil
		}
	}

	require.NoError(t, executor.Register(&ToolDefinition{Name: "tool", Handler: version(1)}))
	result, _ := executor.Execute(context.Background(), "tool", nil)
	assert.Equal(t, 1, result["version"])

	require.NoError(t, executor.Register(&ToolDefinition{Name: "tool", Handler: version(2)}))
	result, _ = executor.Execute(context.Background(), "tool", nil)
	assert.Equal(t, 2, result["version"])
}
