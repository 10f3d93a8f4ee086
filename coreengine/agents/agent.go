// Package agents provides the pipeline stages: Router, Profiler, Strategist,
// Writer, Critic and the direct Replier.
//
// Each agent is constructed once with its collaborators and is safe for
// concurrent use. Agents never return errors to the orchestrator; every
// degradation is reported as an envelope.Fault next to a usable result.
package agents

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeeves-cluster-organization/outreach/coreengine/config"
	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
	"github.com/jeeves-cluster-organization/outreach/coreengine/llm"
	"github.com/jeeves-cluster-organization/outreach/coreengine/logging"
	"github.com/jeeves-cluster-organization/outreach/coreengine/observability"
)

// Logger is the interface for logging.
type Logger = logging.Logger

// ToolExecutor is the interface for tool execution.
type ToolExecutor interface {
	Execute(ctx context.Context, toolName string, params map[string]any) (map[string]any, error)
}

// KnowledgeStore is the part of the knowledge adapter the agents read and write.
type KnowledgeStore interface {
	FindProspect(ctx context.Context, name, company string) (*envelope.ProspectProfile, bool)
	SaveProspect(ctx context.Context, profile *envelope.ProspectProfile)
	FindSimilarDrafts(ctx context.Context, query string, limit int) []envelope.DraftExample
}

// Deps bundles the collaborators shared by every agent.
type Deps struct {
	LLM       llm.Provider
	Tools     ToolExecutor   // optional
	Knowledge KnowledgeStore // optional
	Config    *config.OutreachConfig
	Logger    Logger
}

func (d Deps) withDefaults() Deps {
	if d.Config == nil {
		d.Config = config.DefaultOutreachConfig()
	}
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	return d
}

var tracer = otel.Tracer("outreach/agents")

type modelKey struct{}

// WithModel attaches the request's model override to ctx.
func WithModel(ctx context.Context, model string) context.Context {
	if model == "" {
		return ctx
	}
	return context.WithValue(ctx, modelKey{}, model)
}

func modelFor(ctx context.Context, cfg *config.OutreachConfig) string {
	if m, ok := ctx.Value(modelKey{}).(string); ok && m != "" {
		return m
	}
	return cfg.DefaultModel
}

// =============================================================================
// STAGE INSTRUMENTATION
// =============================================================================

// stage wraps one agent invocation with a span, metrics and start/complete logs.
// call is safe from fan-out goroutines.
type stage struct {
	name     string
	logger   Logger
	span     trace.Span
	start    time.Time
	llmCalls atomic.Int32
}

func beginStage(ctx context.Context, name string, logger Logger, attrs ...attribute.KeyValue) (context.Context, *stage) {
	attrs = append([]attribute.KeyValue{attribute.String("outreach.agent.name", name)}, attrs...)
	ctx, span := tracer.Start(ctx, "agent.process", trace.WithAttributes(attrs...))
	logger.Info(fmt.Sprintf("%s_started", name))
	return ctx, &stage{name: name, logger: logger, span: span, start: time.Now()}
}

// finish records the outcome. Any fault marks the stage degraded.
func (s *stage) finish(faults []envelope.Fault) {
	durationMS := int(time.Since(s.start).Milliseconds())
	s.span.SetAttributes(
		attribute.Int("outreach.llm.calls", int(s.llmCalls.Load())),
		attribute.Int("duration_ms", durationMS),
	)

	status := "success"
	if len(faults) > 0 {
		status = "degraded"
		for _, f := range faults {
			observability.RecordFault(string(f.Kind), f.Stage)
		}
		s.span.SetStatus(codes.Error, faults[0].Error())
		s.logger.Warn(fmt.Sprintf("%s_degraded", s.name), "faults", len(faults), "first_fault", faults[0].Message, "duration_ms", durationMS)
	} else {
		s.span.SetStatus(codes.Ok, "success")
		s.logger.Info(fmt.Sprintf("%s_completed", s.name), "duration_ms", durationMS, "llm_calls", s.llmCalls.Load())
	}
	observability.RecordAgentExecution(s.name, status, durationMS)
	s.span.End()
}

// =============================================================================
// MODEL CALL HELPERS
// =============================================================================

// call performs one model call. Panics in the provider are returned as errors.
func (s *stage) call(ctx context.Context, provider llm.Provider, req llm.Request) (out string, err error) {
	s.llmCalls.Add(1)
	defer recoverInto(&err, s.name)
	return provider.Generate(ctx, req)
}

// callJSON performs one structured call and parses the first JSON object.
// The returned kind tells a call failure from a parse failure.
func (s *stage) callJSON(ctx context.Context, provider llm.Provider, req llm.Request) (map[string]any, envelope.ErrorKind, error) {
	text, err := s.call(ctx, provider, req)
	if err != nil {
		return nil, envelope.ErrorKindCollaborator, err
	}
	data, err := llm.ExtractJSON(text)
	if err != nil {
		s.logger.Debug("structured_parse_failed", "shape", string(req.Shape), "preview", llm.Truncate(text, 120))
		return nil, envelope.ErrorKindParse, err
	}
	return data, "", nil
}

// recoverInto converts a panic into an error. Use with defer.
func recoverInto(err *error, operation string) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("panic in %s: %v", operation, r)
	}
}

func userMessages(history []envelope.Message, prompt string) []envelope.Message {
	msgs := make([]envelope.Message, 0, len(history)+1)
	for _, m := range history {
		if m.Role == "user" || m.Role == "assistant" {
			msgs = append(msgs, m)
		}
	}
	return append(msgs, envelope.Message{Role: "user", Content: prompt})
}

// cleanDraft strips code fences and wrapping quotes a model sometimes adds.
func cleanDraft(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if nl := strings.IndexByte(text, '\n'); nl >= 0 && !strings.Contains(text[:nl], " ") {
			text = text[nl+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	text = strings.TrimSpace(text)
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		text = text[1 : len(text)-1]
	}
	return strings.TrimSpace(text)
}
