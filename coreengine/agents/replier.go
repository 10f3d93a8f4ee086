package agents

import (
	"context"
	"errors"
	"strings"

	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
	"github.com/jeeves-cluster-organization/outreach/coreengine/llm"
)

var errEmptyReply = errors.New("empty reply")

// Replier answers conversational requests directly.
type Replier struct {
	deps Deps
}

// NewReplier creates a Replier.
func NewReplier(deps Deps) *Replier {
	deps = deps.withDefaults()
	deps.Logger = deps.Logger.Bind("agent", "replier")
	return &Replier{deps: deps}
}

// Reply makes one free-text call. Failure yields FallbackReply and a fault.
func (r *Replier) Reply(ctx context.Context, text string, history []envelope.Message) (string, []envelope.Fault) {
	ctx, st := beginStage(ctx, "replier", r.deps.Logger)
	out, err := st.call(ctx, r.deps.LLM, llm.Request{
		Model:       modelFor(ctx, r.deps.Config),
		Shape:       llm.ShapeReply,
		System:      replierSystemPrompt,
		Messages:    userMessages(history, text),
		Temperature: r.deps.Config.Temperature,
		MaxTokens:   300,
	})
	out = strings.TrimSpace(out)
	if err == nil && out == "" {
		err = errEmptyReply
	}
	if err != nil {
		faults := []envelope.Fault{envelope.NewFault(envelope.ErrorKindCollaborator, "replier", err)}
		st.finish(faults)
		return FallbackReply, faults
	}
	st.finish(nil)
	return out, nil
}
