package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/outreach/commbus"
	"github.com/jeeves-cluster-organization/outreach/coreengine/config"
	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
	"github.com/jeeves-cluster-organization/outreach/coreengine/kernel"
	"github.com/jeeves-cluster-organization/outreach/coreengine/knowledge"
	"github.com/jeeves-cluster-organization/outreach/coreengine/llm"
	"github.com/jeeves-cluster-organization/outreach/coreengine/runtime"
	"github.com/jeeves-cluster-organization/outreach/coreengine/testutil"
)

const emailDraft = "Subject: Your RoboConf talk\n\nHi Aisha,\n\nLoved the on-device vision demo. Open to a call?\n\nBest,\nSam"

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	settings, err := config.LoadFile("")
	require.NoError(t, err)
	settings.Outreach.MaxResearchQueries = 0
	return settings
}

func scriptedProvider() *testutil.MockLLMProvider {
	return testutil.NewMockLLMProvider().
		WithScript(llm.ShapeBrief, testutil.BriefJSON(envelope.ChannelEmail)).
		WithResponse(llm.ShapeDraft, "Channel: email", emailDraft).
		WithScript(llm.ShapeCritique, testutil.CritiqueJSON(91, "strong"))
}

func newApp(t *testing.T, settings *config.Settings, opts Options) *App {
	t.Helper()
	a, err := New(context.Background(), settings, testutil.NewMockLogger(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })
	return a
}

// =============================================================================
// WIRING TESTS
// =============================================================================

func TestNewRunsPipelineEndToEnd(t *testing.T) {
	settings := testSettings(t)
	settings.Infra.DatabasePath = filepath.Join(t.TempDir(), "outreach.db")
	recorder := commbus.NewRecorder(0)
	a := newApp(t, settings, Options{LLM: scriptedProvider(), Recorder: recorder})

	resp := a.Runner.Run(context.Background(), runtime.Request{Message: testutil.AishaRequest, SessionID: "s1"})

	require.True(t, resp.HasDrafts())
	assert.Equal(t, emailDraft, resp.Content[envelope.ChannelEmail])
	assert.Equal(t, "completed_successfully", resp.Metadata["terminal_reason"])
	assert.Contains(t, recorder.Types(resp.RequestID), commbus.EventPipelineCompleted)

	turns := a.Knowledge.Transcript(context.Background(), "s1")
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	drafts, ok := a.Knowledge.LatestDrafts(context.Background(), "s1")
	require.True(t, ok)
	assert.Equal(t, emailDraft, drafts[envelope.ChannelEmail])
}

func TestNewCachesIdenticalCalls(t *testing.T) {
	provider := scriptedProvider()
	a := newApp(t, testSettings(t), Options{LLM: provider})

	a.Runner.Run(context.Background(), runtime.Request{Message: testutil.AishaRequest})
	first := provider.GetCallCount()
	a.Runner.Run(context.Background(), runtime.Request{Message: testutil.AishaRequest})

	assert.Less(t, provider.GetCallCount(), 2*first, "repeat prompts are served from the response cache")
}

func TestNewOptionalCollaborators(t *testing.T) {
	tests := []struct {
		name        string
		rateLimit   int
		wantLimiter bool
	}{
		{"rate limiting on", 5, true},
		{"rate limiting off", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := testSettings(t)
			settings.Outreach.RateLimitPerMinute = tt.rateLimit
			a := newApp(t, settings, Options{LLM: scriptedProvider(), Store: knowledge.NewMemoryStore()})

			assert.Equal(t, tt.wantLimiter, a.RateLimiter != nil)
			if tt.wantLimiter {
				for i := 0; i < tt.rateLimit; i++ {
					require.True(t, a.RateLimiter.Allow("s1", "generate").Allowed)
				}
				assert.False(t, a.RateLimiter.Allow("s1", "generate").Allowed)
			}
		})
	}
}

func TestNewCleanupLoopStopsOnClose(t *testing.T) {
	cleanup := kernel.CleanupConfig{Interval: 5 * time.Millisecond, RunRetention: time.Minute}
	a, err := New(context.Background(), testSettings(t), testutil.NewMockLogger(), Options{LLM: scriptedProvider(), Cleanup: &cleanup})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, a.Close())
	assert.Nil(t, a.stopCleanup)
}

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestNewErrors(t *testing.T) {
	_, err := New(context.Background(), nil, nil, Options{})
	assert.ErrorContains(t, err, "settings are required")

	_, err = New(context.Background(), testSettings(t), nil, Options{})
	assert.ErrorContains(t, err, "api key missing")
}

func TestBuildSynthesizer(t *testing.T) {
	settings := testSettings(t)
	logger := testutil.NewMockLogger()

	assert.Nil(t, buildSynthesizer(settings, Options{}, logger), "speech disabled")

	settings.Outreach.EnableSpeech = true
	assert.Nil(t, buildSynthesizer(settings, Options{}, logger), "no api key")
	assert.True(t, logger.HasLog("warn", "speech_disabled"))

	settings.Infra.OpenAIAPIKey = "sk-test"
	settings.Infra.SpeechDir = t.TempDir()
	assert.NotNil(t, buildSynthesizer(settings, Options{}, logger))
}
