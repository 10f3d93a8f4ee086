package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jeeves-cluster-organization/outreach/coreengine/config"
	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
	"github.com/jeeves-cluster-organization/outreach/coreengine/llm"
	"github.com/jeeves-cluster-organization/outreach/coreengine/testutil"
)

func TestMain(m *testing.M) {
	// genai links opencensus, whose stats worker starts at package init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func testDeps(provider *testutil.MockLLMProvider) Deps {
	return Deps{
		LLM:    provider,
		Config: config.DefaultOutreachConfig(),
		Logger: testutil.NewMockLogger(),
	}
}

// =============================================================================
// ROUTER TESTS
// =============================================================================

func TestRouterFastPaths(t *testing.T) {
	history := []envelope.Message{{Role: "user", Content: "write to Aisha"}, {Role: "assistant", Content: "drafts"}}

	tests := []struct {
		name       string
		text       string
		history    []envelope.Message
		wantDec    envelope.Decision
		wantReply  string
		wantReason string
	}{
		{"empty input greets", "   ", nil, envelope.DecisionConversational, GreetingReply, "empty input"},
		{"write marker", "Write something for Aisha Khan at Northwind", nil, envelope.DecisionGenerate, "", "task marker"},
		{"channel word", "linkedin for Bob please", nil, envelope.DecisionGenerate, "", "task marker"},
		{"phrase marker", "I need a message to our new lead", nil, envelope.DecisionGenerate, "", "task marker"},
		{"refine with history", "make it shorter", history, envelope.DecisionRefine, "", "refine marker"},
		{"rewrite is not write", "rewrite the email please", history, envelope.DecisionRefine, "", "refine marker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := testutil.NewMockLLMProvider()
			r := NewRouter(testDeps(provider))

			got := r.Classify(context.Background(), tt.text, tt.history)

			assert.Equal(t, tt.wantDec, got.Decision)
			assert.Equal(t, 100, got.Confidence)
			assert.True(t, got.FastPath)
			assert.Equal(t, tt.wantReply, got.Reply)
			assert.Equal(t, tt.wantReason, got.Reason)
			assert.Empty(t, got.Faults)
			assert.Zero(t, provider.GetCallCount(), "fast path must not call the model")
		})
	}
}

func TestRouterModelTier(t *testing.T) {
	tests := []struct {
		name      string
		response  string
		err       error
		wantDec   envelope.Decision
		wantConf  int
		wantFault envelope.ErrorKind
	}{
		{"conversational", testutil.RouteJSON("conversational", 85), nil, envelope.DecisionConversational, 85, ""},
		{"generate with prose", "Sure! " + testutil.RouteJSON("generate", 72), nil, envelope.DecisionGenerate, 72, ""},
		{"string confidence", `{"decision": "conversational", "confidence": "90/100"}`, nil, envelope.DecisionConversational, 90, ""},
		{"unknown decision", testutil.RouteJSON("banana", 90), nil, envelope.DecisionUnclassifiable, 0, ""},
		{"parse failure", "I am not sure", nil, envelope.DecisionUnclassifiable, 0, envelope.ErrorKindParse},
		{"call failure", "", testutil.ErrMockUpstream, envelope.DecisionUnclassifiable, 0, envelope.ErrorKindCollaborator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := testutil.NewMockLLMProvider()
			if tt.err != nil {
				provider.WithShapeError(llm.ShapeRoute, tt.err)
			} else {
				provider.WithScript(llm.ShapeRoute, tt.response)
			}

			got := NewRouter(testDeps(provider)).Classify(context.Background(), "how are you today?", nil)

			assert.Equal(t, tt.wantDec, got.Decision)
			assert.Equal(t, tt.wantConf, got.Confidence)
			assert.False(t, got.FastPath)
			assert.Equal(t, 1, provider.GetCallCount())
			if tt.wantFault == "" {
				assert.Empty(t, got.Faults)
			} else {
				require.Len(t, got.Faults, 1)
				assert.Equal(t, tt.wantFault, got.Faults[0].Kind)
				assert.Equal(t, "router", got.Faults[0].Stage)
			}
		})
	}
}

func TestRouterRefineWithoutHistoryUsesModel(t *testing.T) {
	provider := testutil.NewMockLLMProvider().WithScript(llm.ShapeRoute, testutil.RouteJSON("unclassifiable", 10))
	got := NewRouter(testDeps(provider)).Classify(context.Background(), "make it shorter", nil)

	assert.Equal(t, envelope.DecisionUnclassifiable, got.Decision)
	assert.True(t, got.NeedsClarification(40))
}

func TestRouterUsesModelOverride(t *testing.T) {
	provider := testutil.NewMockLLMProvider().WithScript(llm.ShapeRoute, testutil.RouteJSON("conversational", 80))
	ctx := WithModel(context.Background(), "custom-model")
	NewRouter(testDeps(provider)).Classify(ctx, "hello there", nil)

	calls := provider.CallsFor(llm.ShapeRoute)
	require.Len(t, calls, 1)
	assert.Equal(t, "custom-model", calls[0].Model)
}

func TestDetectChannels(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		want     []envelope.ChannelID
		all      bool
		explicit bool
	}{
		{"none defaults to broad set", "reach out to Aisha", envelope.DefaultChannels, false, false},
		{"single", "write a cold email", []envelope.ChannelID{envelope.ChannelEmail}, false, true},
		{"several in canonical order", "sms and LinkedIn and e-mail", []envelope.ChannelID{envelope.ChannelEmail, envelope.ChannelLinkedIn, envelope.ChannelSMS}, false, true},
		{"chat", "a chat reply", []envelope.ChannelID{envelope.ChannelChat}, false, true},
		{"all channels", "drafts for all channels", envelope.AllChannels, true, true},
		{"every channel", "Every channel please", envelope.AllChannels, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectChannels(tt.text)
			assert.Equal(t, tt.want, got.Channels)
			assert.Equal(t, tt.all, got.All)
			assert.Equal(t, tt.explicit, got.Explicit)
		})
	}
}

func TestRouteDecisionCopiesChannels(t *testing.T) {
	r := RouteResult{Decision: envelope.DecisionGenerate, Confidence: 100, Channels: []envelope.ChannelID{envelope.ChannelSMS}}
	d := r.RouteDecision()
	d.Channels[0] = envelope.ChannelEmail
	assert.Equal(t, envelope.ChannelSMS, r.Channels[0])
}
