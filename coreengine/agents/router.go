package agents

import (
	"context"
	"strings"
	"unicode"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
	"github.com/jeeves-cluster-organization/outreach/coreengine/llm"
	"github.com/jeeves-cluster-organization/outreach/coreengine/typeutil"
)

// RouteResult is the router's classification of one request.
type RouteResult struct {
	Decision         envelope.Decision
	Confidence       int
	Reason           string
	Channels         []envelope.ChannelID
	AllChannels      bool
	ChannelsExplicit bool // false when Channels is the default broad set
	FastPath         bool // decided without a model call
	Reply            string
	Faults           []envelope.Fault
}

// RouteDecision converts the result for the envelope.
func (r RouteResult) RouteDecision() envelope.RouteDecision {
	return envelope.RouteDecision{
		Decision:    r.Decision,
		Confidence:  r.Confidence,
		Reason:      r.Reason,
		Channels:    append([]envelope.ChannelID(nil), r.Channels...),
		AllChannels: r.AllChannels,
		FastPath:    r.FastPath,
	}
}

// NeedsClarification reports whether confidence is below the threshold.
func (r RouteResult) NeedsClarification(threshold int) bool {
	return r.Confidence < threshold
}

// ChannelDetection is the result of the deterministic channel scan.
type ChannelDetection struct {
	Channels []envelope.ChannelID
	All      bool
	Explicit bool
}

var (
	generateMarkers = map[string]bool{
		"generate": true, "write": true, "draft": true, "compose": true,
		"email": true, "linkedin": true, "sms": true, "outreach": true,
		"inmail": true, "dm": true,
	}
	generatePhrases = []string{"message to", "reach out", "cold email", "text message", "follow up with", "follow-up to"}

	refineMarkers = map[string]bool{
		"rewrite": true, "revise": true, "shorter": true, "longer": true,
		"tweak": true, "shorten": true, "rephrase": true, "punchier": true,
	}
	refinePhrases = []string{"make it", "more formal", "less formal", "more casual", "change the", "try again"}

	channelKeywords = map[string]envelope.ChannelID{
		"email": envelope.ChannelEmail, "e-mail": envelope.ChannelEmail, "mail": envelope.ChannelEmail,
		"linkedin": envelope.ChannelLinkedIn, "inmail": envelope.ChannelLinkedIn, "dm": envelope.ChannelLinkedIn,
		"sms": envelope.ChannelSMS, "text": envelope.ChannelSMS, "texting": envelope.ChannelSMS,
		"chat": envelope.ChannelChat,
	}
	allChannelPhrases = []string{"all channels", "every channel", "all the channels", "each channel"}
)

// Router decides how a request is handled.
type Router struct {
	deps Deps
}

// NewRouter creates a Router.
func NewRouter(deps Deps) *Router {
	deps = deps.withDefaults()
	deps.Logger = deps.Logger.Bind("agent", "router")
	return &Router{deps: deps}
}

// Classify routes text. Empty input gets the greeting without a model call;
// strong task markers short-circuit to generate; otherwise one model call
// decides. A model failure or unparseable answer is unclassifiable with
// confidence 0.
func (r *Router) Classify(ctx context.Context, text string, history []envelope.Message) RouteResult {
	ctx, st := beginStage(ctx, "router", r.deps.Logger, attribute.Int("outreach.history.turns", len(history)))
	result := r.classify(ctx, st, text, history)
	st.span.SetAttributes(
		attribute.String("outreach.route.decision", string(result.Decision)),
		attribute.Int("outreach.route.confidence", result.Confidence),
	)
	st.finish(result.Faults)
	r.deps.Logger.Info("router_classified",
		"decision", string(result.Decision),
		"confidence", result.Confidence,
		"fast_path", result.FastPath,
		"channels", channelList(result.Channels),
	)
	return result
}

func (r *Router) classify(ctx context.Context, st *stage, text string, history []envelope.Message) RouteResult {
	detection := DetectChannels(text)
	result := RouteResult{
		Channels:         detection.Channels,
		AllChannels:      detection.All,
		ChannelsExplicit: detection.Explicit,
	}

	if strings.TrimSpace(text) == "" {
		result.Decision = envelope.DecisionConversational
		result.Confidence = 100
		result.Reason = "empty input"
		result.FastPath = true
		result.Reply = GreetingReply
		return result
	}

	tokens := tokenize(text)
	lower := strings.ToLower(text)

	if len(history) > 0 && hasMarker(tokens, lower, refineMarkers, refinePhrases) {
		result.Decision = envelope.DecisionRefine
		result.Confidence = 100
		result.Reason = "refine marker"
		result.FastPath = true
		return result
	}
	if hasMarker(tokens, lower, generateMarkers, generatePhrases) {
		result.Decision = envelope.DecisionGenerate
		result.Confidence = 100
		result.Reason = "task marker"
		result.FastPath = true
		return result
	}

	data, kind, err := st.callJSON(ctx, r.deps.LLM, llm.Request{
		Model:       modelFor(ctx, r.deps.Config),
		Shape:       llm.ShapeRoute,
		System:      routerSystemPrompt,
		Messages:    userMessages(history, text),
		Temperature: 0,
		MaxTokens:   200,
	})
	if err != nil {
		result.Decision = envelope.DecisionUnclassifiable
		result.Confidence = 0
		result.Reason = "classification failed"
		result.Faults = append(result.Faults, envelope.NewFault(kind, "router", err))
		return result
	}

	result.Decision = envelope.DecisionFromString(typeutil.StringDefault(data["decision"], ""))
	if confidence, ok := typeutil.Score(data["confidence"]); ok {
		result.Confidence = confidence
	}
	result.Reason = typeutil.StringDefault(data["reason"], "")
	if result.Decision == envelope.DecisionUnclassifiable {
		result.Confidence = 0
	}
	return result
}

// DetectChannels scans text for channel hints. With no hint the default
// broad set is returned; "all channels" selects every channel.
func DetectChannels(text string) ChannelDetection {
	lower := strings.ToLower(text)
	for _, phrase := range allChannelPhrases {
		if strings.Contains(lower, phrase) {
			return ChannelDetection{
				Channels: append([]envelope.ChannelID(nil), envelope.AllChannels...),
				All:      true,
				Explicit: true,
			}
		}
	}

	seen := make(map[envelope.ChannelID]bool)
	var found []envelope.ChannelID
	for _, tok := range tokenize(text) {
		if c, ok := channelKeywords[tok]; ok && !seen[c] {
			seen[c] = true
			found = append(found, c)
		}
	}
	if len(found) == 0 {
		return ChannelDetection{Channels: append([]envelope.ChannelID(nil), envelope.DefaultChannels...)}
	}
	return ChannelDetection{Channels: envelope.SortChannels(found), Explicit: true}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
}

func hasMarker(tokens []string, lower string, words map[string]bool, phrases []string) bool {
	for _, tok := range tokens {
		if words[tok] {
			return true
		}
	}
	for _, phrase := range phrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
