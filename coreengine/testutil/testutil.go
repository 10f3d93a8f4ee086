// Package testutil provides shared test utilities and mocks.
//
// All mocks in this package are designed for testing the engine components in
// isolation without requiring a model endpoint, network, or database.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
	"github.com/jeeves-cluster-organization/outreach/coreengine/llm"
	"github.com/jeeves-cluster-organization/outreach/coreengine/logging"
)

// =============================================================================
// MOCK LLM PROVIDER
// =============================================================================

// Rule matches a call by shape and prompt substring.
type Rule struct {
	Shape    llm.Shape
	Contains string // matched against the final user message; empty matches any
	Response string
	Err      error
	Panic    bool
}

// MockLLMProvider implements llm.Provider for testing.
//
// Resolution order: GenerateFunc, Error, Rules (first match wins), the
// scripted sequence for the call's shape (the last entry repeats), then
// DefaultResponse.
type MockLLMProvider struct {
	// Rules are checked in order.
	Rules []Rule

	// Scripts maps a shape to the responses returned on successive calls.
	Scripts map[llm.Shape][]string

	// DefaultResponse is returned when nothing else matches.
	DefaultResponse string

	// Delay simulates model latency.
	Delay time.Duration

	// Error causes every Generate call to return this error.
	Error error

	// GenerateFunc allows custom generation logic.
	GenerateFunc func(context.Context, llm.Request) (string, error)

	calls   []llm.Request
	scripts map[llm.Shape]int
	mu      sync.Mutex
}

// NewMockLLMProvider creates a MockLLMProvider with sensible defaults.
func NewMockLLMProvider() *MockLLMProvider {
	return &MockLLMProvider{
		Scripts:         make(map[llm.Shape][]string),
		DefaultResponse: `{"reason": "mock response"}`,
		scripts:         make(map[llm.Shape]int),
	}
}

// Generate implements llm.Provider.
func (m *MockLLMProvider) Generate(ctx context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	customFunc := m.GenerateFunc
	delay := m.Delay
	m.mu.Unlock()

	if customFunc != nil {
		return customFunc(ctx, req)
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Error != nil {
		return "", m.Error
	}

	prompt := req.Prompt()
	for _, r := range m.Rules {
		if r.Shape != req.Shape {
			continue
		}
		if r.Contains != "" && !strings.Contains(prompt, r.Contains) {
			continue
		}
		if r.Panic {
			panic(fmt.Sprintf("mock panic for shape %q", req.Shape))
		}
		if r.Err != nil {
			return "", r.Err
		}
		return r.Response, nil
	}

	if script := m.Scripts[req.Shape]; len(script) > 0 {
		i := m.scripts[req.Shape]
		if i >= len(script) {
			i = len(script) - 1
		}
		m.scripts[req.Shape]++
		return script[i], nil
	}

	return m.DefaultResponse, nil
}

// WithScript sets the responses returned on successive calls of a shape.
func (m *MockLLMProvider) WithScript(shape llm.Shape, responses ...string) *MockLLMProvider {
	m.Scripts[shape] = responses
	return m
}

// WithRule appends a rule.
func (m *MockLLMProvider) WithRule(rule Rule) *MockLLMProvider {
	m.Rules = append(m.Rules, rule)
	return m
}

// WithResponse answers calls of shape whose prompt contains substr.
func (m *MockLLMProvider) WithResponse(shape llm.Shape, substr, response string) *MockLLMProvider {
	return m.WithRule(Rule{Shape: shape, Contains: substr, Response: response})
}

// WithShapeError fails every call of shape.
func (m *MockLLMProvider) WithShapeError(shape llm.Shape, err error) *MockLLMProvider {
	return m.WithRule(Rule{Shape: shape, Err: err})
}

// WithError configures the mock to fail every call.
func (m *MockLLMProvider) WithError(err error) *MockLLMProvider {
	m.Error = err
	return m
}

// WithDelay adds latency simulation.
func (m *MockLLMProvider) WithDelay(d time.Duration) *MockLLMProvider {
	m.Delay = d
	return m
}

// GetCallCount returns the number of calls (thread-safe).
func (m *MockLLMProvider) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// CallsFor returns the recorded requests of a shape, in call order.
func (m *MockLLMProvider) CallsFor(shape llm.Shape) []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []llm.Request
	for _, c := range m.calls {
		if c.Shape == shape {
			out = append(out, c)
		}
	}
	return out
}

// Calls returns every recorded request.
func (m *MockLLMProvider) Calls() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.calls...)
}

// Reset clears call history and script positions.
func (m *MockLLMProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.scripts = make(map[llm.Shape]int)
}

// ErrMockUpstream is a generic upstream failure for tests.
var ErrMockUpstream = errors.New("mock upstream failure")

// =============================================================================
// MOCK TOOL EXECUTOR
// =============================================================================

// MockToolExecutor implements the research tool executor for testing.
type MockToolExecutor struct {
	// Results maps tool names to their results.
	Results map[string]map[string]any

	// Errors maps tool names to errors they should return.
	Errors map[string]error

	// Delay simulates tool latency.
	Delay time.Duration

	// ExecuteFunc allows custom execution logic.
	ExecuteFunc func(ctx context.Context, toolName string, params map[string]any) (map[string]any, error)

	calls []ToolCall
	mu    sync.Mutex
}

// ToolCall records a single tool execution for assertion.
type ToolCall struct {
	ToolName string
	Params   map[string]any
}

// NewMockToolExecutor creates a MockToolExecutor.
func NewMockToolExecutor() *MockToolExecutor {
	return &MockToolExecutor{
		Results: make(map[string]map[string]any),
		Errors:  make(map[string]error),
	}
}

// Execute implements the tool executor interface.
func (m *MockToolExecutor) Execute(ctx context.Context, toolName string, params map[string]any) (map[string]any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, ToolCall{ToolName: toolName, Params: params})
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, toolName, params)
	}
	if err, exists := m.Errors[toolName]; exists {
		return nil, err
	}
	if result, exists := m.Results[toolName]; exists {
		return result, nil
	}
	return map[string]any{"text": ""}, nil
}

// WithResult adds a tool result.
func (m *MockToolExecutor) WithResult(toolName string, result map[string]any) *MockToolExecutor {
	m.Results[toolName] = result
	return m
}

// WithError configures a tool to return an error.
func (m *MockToolExecutor) WithError(toolName string, err error) *MockToolExecutor {
	m.Errors[toolName] = err
	return m
}

// CallsFor returns calls of one tool.
func (m *MockToolExecutor) CallsFor(toolName string) []ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ToolCall
	for _, c := range m.calls {
		if c.ToolName == toolName {
			out = append(out, c)
		}
	}
	return out
}

// GetCallCount returns the number of calls (thread-safe).
func (m *MockToolExecutor) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// =============================================================================
// MOCK LOGGER
// =============================================================================

// MockLogger implements logging.Logger for testing.
type MockLogger struct {
	logs []LogEntry
	mu   sync.Mutex
}

// LogEntry represents a captured log entry.
type LogEntry struct {
	Level   string
	Message string
	Fields  map[string]any
}

// NewMockLogger creates a MockLogger.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) { m.log("debug", msg, keysAndValues...) }
func (m *MockLogger) Info(msg string, keysAndValues ...any)  { m.log("info", msg, keysAndValues...) }
func (m *MockLogger) Warn(msg string, keysAndValues ...any)  { m.log("warn", msg, keysAndValues...) }
func (m *MockLogger) Error(msg string, keysAndValues ...any) { m.log("error", msg, keysAndValues...) }

// Bind returns the same logger; bound fields are not captured.
func (m *MockLogger) Bind(fields ...any) logging.Logger {
	return m
}

func (m *MockLogger) log(level, msg string, keysAndValues ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields := make(map[string]any)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}
	m.logs = append(m.logs, LogEntry{Level: level, Message: msg, Fields: fields})
}

// GetLogs returns captured logs (thread-safe).
func (m *MockLogger) GetLogs() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogEntry(nil), m.logs...)
}

// HasLog checks if a log message exists at the given level.
func (m *MockLogger) HasLog(level, message string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, log := range m.logs {
		if log.Level == level && log.Message == message {
			return true
		}
	}
	return false
}

// =============================================================================
// FIXTURES
// =============================================================================

// AishaRequest is a generate request with labeled facts and an email hint.
const AishaRequest = `Write a cold email to this prospect.
Name: Aisha Khan
Role: VP of Engineering
Company: Northwind Robotics
Industry: Industrial automation
Interests: edge inference, hiring senior embedded engineers
Recent activity: spoke at RoboConf about on-device vision`

// AishaProfile is the profile extracted from AishaRequest.
func AishaProfile() *envelope.ProspectProfile {
	return &envelope.ProspectProfile{
		Name:           "Aisha Khan",
		Role:           "VP of Engineering",
		Company:        "Northwind Robotics",
		Industry:       envelope.StringPtr("Industrial automation"),
		Interests:      []string{"edge inference", "hiring senior embedded engineers"},
		RecentActivity: []string{"spoke at RoboConf about on-device vision"},
		DetectedTone:   "professional",
		RawBio:         AishaRequest,
	}
}

// BriefJSON renders a strategist response.
func BriefJSON(channels ...envelope.ChannelID) string {
	names := make([]string, len(channels))
	for i, c := range channels {
		names[i] = fmt.Sprintf("%q", c)
	}
	return fmt.Sprintf(`{"requested_channels": [%s], "goal": "book a 20 minute call",
"hook": "RoboConf talk on on-device vision", "pain_point": "slow hiring for embedded roles",
"value_proposition": "pre-vetted embedded engineers in two weeks", "recommended_tone": "professional",
"key_points": ["reference the talk", "one clear ask"]}`, strings.Join(names, ", "))
}

// CritiqueJSON renders a per-channel critic response.
func CritiqueJSON(score int, feedback string) string {
	return fmt.Sprintf(`{"score": %d, "feedback": %q, "additions": ["mention the RoboConf talk"], "removals": ["generic opener"]}`, score, feedback)
}

// RouteJSON renders a router response.
func RouteJSON(decision string, confidence int) string {
	return fmt.Sprintf(`{"decision": %q, "confidence": %d, "reason": "mock"}`, decision, confidence)
}
