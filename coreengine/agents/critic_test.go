package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
	"github.com/jeeves-cluster-organization/outreach/coreengine/llm"
	"github.com/jeeves-cluster-organization/outreach/coreengine/testutil"
)

var critiqueDrafts = envelope.DraftSet{
	envelope.ChannelEmail:    "Subject: Your talk\n\nHi Aisha,\n\nLoved the talk. Open to a call?\n\nBest",
	envelope.ChannelLinkedIn: "Hi there, let's connect.",
}

// =============================================================================
// CRITIC TESTS
// =============================================================================

func TestCriticAcceptsAllPassing(t *testing.T) {
	provider := testutil.NewMockLLMProvider().WithScript(llm.ShapeCritique, testutil.CritiqueJSON(88, "strong"))

	got, faults := NewCritic(testDeps(provider)).Evaluate(context.Background(), critiqueDrafts, testutil.AishaProfile(),
		[]envelope.ChannelID{envelope.ChannelEmail, envelope.ChannelLinkedIn})

	assert.Empty(t, faults)
	assert.True(t, got.Passed)
	assert.False(t, got.FailedOpen)
	assert.Equal(t, 88, got.OverallScore)
	assert.Empty(t, got.Rejected)
	assert.Empty(t, got.Additions, "passing channels contribute no additions")
	assert.Equal(t, "[email] strong\n[linkedin] strong", got.Feedback)
}

func TestCriticRejectsBelowThreshold(t *testing.T) {
	provider := testutil.NewMockLLMProvider().
		WithResponse(llm.ShapeCritique, "Channel: email", `{"score": 81, "feedback": "good", "additions": ["keep it"], "removals": []}`).
		WithResponse(llm.ShapeCritique, "Channel: linkedin", testutil.CritiqueJSON(55, "too generic"))

	got, faults := NewCritic(testDeps(provider)).Evaluate(context.Background(), critiqueDrafts, testutil.AishaProfile(),
		[]envelope.ChannelID{envelope.ChannelLinkedIn, envelope.ChannelEmail})

	assert.Empty(t, faults)
	assert.False(t, got.Passed)
	assert.Equal(t, []envelope.ChannelID{envelope.ChannelLinkedIn}, got.Rejected)
	assert.Equal(t, map[envelope.ChannelID]int{envelope.ChannelEmail: 81, envelope.ChannelLinkedIn: 55}, got.PerChannelScore)
	assert.Equal(t, 68, got.OverallScore)
	assert.Equal(t, []string{"mention the RoboConf talk"}, got.Additions)
	assert.Equal(t, []string{"generic opener"}, got.Removals)
	assert.Equal(t, "too generic", got.ChannelFeedback[envelope.ChannelLinkedIn])
}

func TestCriticPromptCarriesViolations(t *testing.T) {
	provider := testutil.NewMockLLMProvider().WithScript(llm.ShapeCritique, testutil.CritiqueJSON(90, "ok"))
	drafts := envelope.DraftSet{envelope.ChannelEmail: "no subject and no greeting"}

	_, _ = NewCritic(testDeps(provider)).Evaluate(context.Background(), drafts, testutil.AishaProfile(), []envelope.ChannelID{envelope.ChannelEmail})

	prompt := provider.CallsFor(llm.ShapeCritique)[0].Prompt()
	assert.Contains(t, prompt, "missing subject line")
	assert.Contains(t, prompt, "missing salutation")
}

func TestCriticFailsOpen(t *testing.T) {
	tests := []struct {
		name     string
		provider *testutil.MockLLMProvider
		drafts   envelope.DraftSet
	}{
		{"unparseable", testutil.NewMockLLMProvider().WithScript(llm.ShapeCritique, "looks fine to me"), critiqueDrafts},
		{"no score", testutil.NewMockLLMProvider().WithScript(llm.ShapeCritique, `{"feedback": "ok"}`), critiqueDrafts},
		{"upstream error", testutil.NewMockLLMProvider().WithShapeError(llm.ShapeCritique, testutil.ErrMockUpstream), critiqueDrafts},
		{"panic", testutil.NewMockLLMProvider().WithRule(testutil.Rule{Shape: llm.ShapeCritique, Panic: true}), critiqueDrafts},
		{"missing draft", testutil.NewMockLLMProvider().WithScript(llm.ShapeCritique, testutil.CritiqueJSON(90, "ok")), envelope.DraftSet{envelope.ChannelEmail: critiqueDrafts[envelope.ChannelEmail]}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := testDeps(tt.provider)
			logger := deps.Logger.(*testutil.MockLogger)

			got, faults := NewCritic(deps).Evaluate(context.Background(), tt.drafts, testutil.AishaProfile(),
				[]envelope.ChannelID{envelope.ChannelEmail, envelope.ChannelLinkedIn})

			assert.True(t, got.Passed)
			assert.True(t, got.FailedOpen)
			assert.Contains(t, got.Feedback, "critic unavailable")
			require.Len(t, faults, 1)
			assert.Equal(t, envelope.ErrorKindCritic, faults[0].Kind)
			assert.True(t, logger.HasLog("warn", "critic_failed_open"))
		})
	}
}
