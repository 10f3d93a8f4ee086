package agents

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
	"github.com/jeeves-cluster-organization/outreach/coreengine/llm"
	"github.com/jeeves-cluster-organization/outreach/coreengine/testutil"
)

func aishaBrief(channels ...envelope.ChannelID) *envelope.CampaignBrief {
	brief := ProfileBrief(testutil.AishaProfile(), channels)
	brief.Hook = "RoboConf talk"
	return brief
}

// =============================================================================
// WRITER TESTS
// =============================================================================

func TestWriterDraftsEveryChannel(t *testing.T) {
	provider := testutil.NewMockLLMProvider().
		WithResponse(llm.ShapeDraft, "Channel: email", "Subject: Your RoboConf talk\n\nHi Aisha,\n\nLoved the talk. Open to a call?\n\nBest").
		WithResponse(llm.ShapeDraft, "Channel: linkedin", "```\nHi Aisha, loved your RoboConf talk. Open to connecting?\n```").
		WithResponse(llm.ShapeDraft, "Channel: sms", `"Hi Aisha, quick note about your talk. Call this week?"`)

	channels := []envelope.ChannelID{envelope.ChannelSMS, envelope.ChannelEmail, envelope.ChannelLinkedIn}
	got, faults := NewWriter(testDeps(provider)).Draft(context.Background(), WriteRequest{
		Brief:    aishaBrief(channels...),
		Profile:  testutil.AishaProfile(),
		Channels: channels,
	})

	assert.Empty(t, faults)
	assert.Equal(t, envelope.DraftSet{
		envelope.ChannelEmail:    "Subject: Your RoboConf talk\n\nHi Aisha,\n\nLoved the talk. Open to a call?\n\nBest",
		envelope.ChannelLinkedIn: "Hi Aisha, loved your RoboConf talk. Open to connecting?",
		envelope.ChannelSMS:      "Hi Aisha, quick note about your talk. Call this week?",
	}, got)
	assert.Equal(t, 3, provider.GetCallCount())
}

func TestWriterEnforcesPolicy(t *testing.T) {
	long := strings.Repeat("word ", 80)
	provider := testutil.NewMockLLMProvider().
		WithResponse(llm.ShapeDraft, "Channel: email", "Loved the talk. Open to a call?").
		WithResponse(llm.ShapeDraft, "Channel: sms", long)

	got, faults := NewWriter(testDeps(provider)).Draft(context.Background(), WriteRequest{
		Brief:    aishaBrief(envelope.ChannelEmail, envelope.ChannelSMS),
		Profile:  testutil.AishaProfile(),
		Channels: []envelope.ChannelID{envelope.ChannelEmail, envelope.ChannelSMS},
	})

	require.Empty(t, faults)
	subject, body := envelope.SplitSubject(got[envelope.ChannelEmail])
	assert.Equal(t, "About RoboConf talk", subject)
	assert.True(t, strings.HasPrefix(body, "Hi Aisha,"))
	assert.Empty(t, envelope.ChannelSMS.Policy().Violations(got[envelope.ChannelSMS]))
	assert.Equal(t, 39, envelope.WordCount(got[envelope.ChannelSMS]))
}

func TestWriterPartialRegenerationKeepsOtherChannels(t *testing.T) {
	provider := testutil.NewMockLLMProvider().WithScript(llm.ShapeDraft, "Hi Aisha, a tighter note about your RoboConf talk.")
	previous := envelope.DraftSet{
		envelope.ChannelEmail:    "Subject: Hi\n\nHi Aisha,\n\naccepted email",
		envelope.ChannelLinkedIn: "Hi Aisha, rejected dm.",
	}
	prior := &envelope.CritiqueResult{
		Passed:          false,
		Rejected:        []envelope.ChannelID{envelope.ChannelLinkedIn},
		ChannelFeedback: map[envelope.ChannelID]string{envelope.ChannelLinkedIn: "too generic"},
		Additions:       []string{"mention the RoboConf talk"},
		Removals:        []string{"generic opener"},
	}

	got, faults := NewWriter(testDeps(provider)).Draft(context.Background(), WriteRequest{
		Brief:    aishaBrief(envelope.ChannelEmail, envelope.ChannelLinkedIn),
		Profile:  testutil.AishaProfile(),
		Prior:    prior,
		Channels: []envelope.ChannelID{envelope.ChannelLinkedIn},
		Previous: previous,
	})

	assert.Empty(t, faults)
	assert.Equal(t, previous[envelope.ChannelEmail], got[envelope.ChannelEmail])
	assert.Equal(t, "Hi Aisha, a tighter note about your RoboConf talk.", got[envelope.ChannelLinkedIn])
	assert.Equal(t, "Hi Aisha, rejected dm.", previous[envelope.ChannelLinkedIn], "previous set is not mutated")

	calls := provider.CallsFor(llm.ShapeDraft)
	require.Len(t, calls, 1)
	prompt := calls[0].Prompt()
	assert.Contains(t, prompt, "Previous draft:\nHi Aisha, rejected dm.")
	assert.Contains(t, prompt, "too generic")
	assert.Contains(t, prompt, "Add: mention the RoboConf talk")
	assert.Contains(t, prompt, "Remove: generic opener")
}

func TestWriterInjectsExamplesAndResearch(t *testing.T) {
	provider := testutil.NewMockLLMProvider().WithScript(llm.ShapeDraft, "Hi Aisha, hello.")
	_, _ = NewWriter(testDeps(provider)).Draft(context.Background(), WriteRequest{
		Brief:             aishaBrief(envelope.ChannelChat),
		Profile:           testutil.AishaProfile(),
		Channels:          []envelope.ChannelID{envelope.ChannelChat},
		Examples:          []envelope.DraftExample{{Text: "an accepted chat"}},
		SupportingContext: "Research:\nseries B",
	})

	prompt := provider.CallsFor(llm.ShapeDraft)[0].Prompt()
	assert.Contains(t, prompt, "an accepted chat")
	assert.Contains(t, prompt, "series B")
	assert.NotContains(t, prompt, "Reviewer feedback")
}

func TestWriterChannelFailure(t *testing.T) {
	tests := []struct {
		name     string
		rule     testutil.Rule
		previous envelope.DraftSet
		want     func(brief *envelope.CampaignBrief) string
	}{
		{
			name:     "keeps previous draft",
			rule:     testutil.Rule{Shape: llm.ShapeDraft, Contains: "Channel: sms", Err: testutil.ErrMockUpstream},
			previous: envelope.DraftSet{envelope.ChannelSMS: "Hi Aisha, old sms."},
			want:     func(*envelope.CampaignBrief) string { return "Hi Aisha, old sms." },
		},
		{
			name: "template without previous",
			rule: testutil.Rule{Shape: llm.ShapeDraft, Contains: "Channel: sms", Response: "   "},
			want: func(b *envelope.CampaignBrief) string {
				return TemplateDraft(envelope.ChannelSMS, testutil.AishaProfile(), b)
			},
		},
		{
			name: "panic is recovered",
			rule: testutil.Rule{Shape: llm.ShapeDraft, Contains: "Channel: sms", Panic: true},
			want: func(b *envelope.CampaignBrief) string {
				return TemplateDraft(envelope.ChannelSMS, testutil.AishaProfile(), b)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := testutil.NewMockLLMProvider().WithRule(tt.rule).WithScript(llm.ShapeDraft, "Hi Aisha, fine.")
			deps := testDeps(provider)
			logger := deps.Logger.(*testutil.MockLogger)
			brief := aishaBrief(envelope.ChannelSMS, envelope.ChannelChat)

			got, faults := NewWriter(deps).Draft(context.Background(), WriteRequest{
				Brief:    brief,
				Profile:  testutil.AishaProfile(),
				Channels: []envelope.ChannelID{envelope.ChannelSMS, envelope.ChannelChat},
				Previous: tt.previous,
			})

			assert.Equal(t, tt.want(brief), got[envelope.ChannelSMS])
			assert.Equal(t, "Hi Aisha, fine.", got[envelope.ChannelChat])
			require.Len(t, faults, 1)
			assert.Equal(t, envelope.ErrorKindCollaborator, faults[0].Kind)
			assert.Contains(t, faults[0].Message, "sms")
			assert.True(t, logger.HasLog("warn", "writer_channel_failed"))
		})
	}
}

func TestTemplateDraftSatisfiesPolicies(t *testing.T) {
	profiles := map[string]*envelope.ProspectProfile{
		"aisha":    testutil.AishaProfile(),
		"sentinel": envelope.SentinelProfile("???"),
	}
	for name, profile := range profiles {
		for _, channel := range envelope.AllChannels {
			t.Run(name+"/"+string(channel), func(t *testing.T) {
				text := TemplateDraft(channel, profile, GenericBrief([]envelope.ChannelID{channel}))
				assert.NotEmpty(t, text)
				assert.Empty(t, channel.Policy().Violations(text))
			})
		}
	}

	sentinel := TemplateDraft(envelope.ChannelEmail, envelope.SentinelProfile(""), nil)
	assert.Contains(t, sentinel, "Hi there,")
	assert.Contains(t, sentinel, "Subject: Quick question")
}

func TestTemplateDraftSubjectKeepsMultibyteHook(t *testing.T) {
	brief := aishaBrief(envelope.ChannelEmail)
	brief.Hook = strings.Repeat("a", 53) + "Ürgen follow-up"

	text := TemplateDraft(envelope.ChannelEmail, testutil.AishaProfile(), brief)

	subject, _ := envelope.SplitSubject(text)
	require.NotEmpty(t, subject)
	assert.True(t, utf8.ValidString(subject), "subject %q", subject)
	assert.True(t, strings.HasPrefix(subject, "About aaa"))
}
