// Package tools provides the research tools the profiler calls: profile page
// fetching and web search.
package tools

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/outreach/coreengine/observability"
)

// Tool names used by the profiler.
const (
	ToolFetchProfile = "fetch_profile"
	ToolWebSearch    = "web_search"
)

// ToolHandler is a function that executes a tool.
type ToolHandler func(ctx context.Context, params map[string]any) (map[string]any, error)

// ToolDefinition defines a tool's metadata and handler.
type ToolDefinition struct {
	Name        string
	Description string
	// Timeout bounds a single call; zero means the caller's context only.
	Timeout time.Duration
	Handler ToolHandler
}

// Executor runs a tool by name. The profiler depends on this interface.
type Executor interface {
	Execute(ctx context.Context, toolName string, params map[string]any) (map[string]any, error)
}

// ToolExecutor executes tools by name.
type ToolExecutor struct {
	tools map[string]*ToolDefinition
	mu    sync.RWMutex
}

// NewToolExecutor creates a new ToolExecutor.
func NewToolExecutor() *ToolExecutor {
	return &ToolExecutor{
		tools: make(map[string]*ToolDefinition),
	}
}

// ErrUnknownTool is returned by Execute for a name nothing registered.
var ErrUnknownTool = errors.New("unknown tool")

// Register adds a tool, replacing any tool of the same name.
func (e *ToolExecutor) Register(def *ToolDefinition) error {
	switch {
	case def == nil || def.Name == "":
		return errors.New("tools: name is required")
	case def.Handler == nil:
		return fmt.Errorf("tools: %s has no handler", def.Name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.tools[def.Name] = def
	return nil
}

// Execute executes a tool by name.
func (e *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]any) (map[string]any, error) {
	e.mu.RLock()
	def, exists := e.tools[toolName]
	e.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, toolName)
	}

	if def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}

	result, err := def.Handler(ctx, params)
	if err != nil {
		observability.RecordToolExecution(toolName, "error")
		return nil, fmt.Errorf("%s: %w", toolName, err)
	}
	observability.RecordToolExecution(toolName, "success")
	return result, nil
}

// Has checks if a tool is registered.
func (e *ToolExecutor) Has(toolName string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, exists := e.tools[toolName]
	return exists
}

// List returns all registered tool names, sorted.
func (e *ToolExecutor) List() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return slices.Sorted(maps.Keys(e.tools))
}

var _ Executor = (*ToolExecutor)(nil)
