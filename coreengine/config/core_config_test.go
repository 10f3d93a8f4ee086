package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
)

// =============================================================================
// DEFAULT CONFIG TESTS
// =============================================================================

func TestDefaultOutreachConfig(t *testing.T) {
	config := DefaultOutreachConfig()

	// Thresholds
	assert.Equal(t, 40, config.ClarificationThreshold)
	assert.Equal(t, 70, config.AcceptanceThreshold)

	// Revision Budget
	assert.Equal(t, 2, config.MaxRevisions)
	assert.Equal(t, 1, config.RichContextMaxRevisions)

	// Response Cache
	assert.Equal(t, 300, config.CacheTTLSeconds)
	assert.Equal(t, 1000, config.CacheMaxEntries)
	assert.Equal(t, 200, config.CacheEvictBatch)
	assert.Equal(t, 5*time.Minute, config.CacheTTL())

	// Feature toggles
	assert.False(t, config.EnableSpeech)
	assert.True(t, config.EnableHTMLRender)
	assert.True(t, config.SaveWinningDrafts)

	assert.Equal(t, "INFO", config.LogLevel)
	assert.NoError(t, config.Validate())
}

// =============================================================================
// FROM MAP TESTS
// =============================================================================

func TestOutreachConfigFromMapPartial(t *testing.T) {
	configMap := map[string]any{
		"max_revisions":   3,
		"request_timeout": 30,
	}

	config := OutreachConfigFromMap(configMap)

	// Overridden values
	assert.Equal(t, 3, config.MaxRevisions)
	assert.Equal(t, 30*time.Second, config.RequestTimeoutDuration())

	// Default values preserved
	assert.Equal(t, 70, config.AcceptanceThreshold)
	assert.Equal(t, 1, config.RichContextMaxRevisions)
}

func TestOutreachConfigFromMapUnknownKeysIgnored(t *testing.T) {
	configMap := map[string]any{
		"max_revisions": 4,
		"unknown_key":   "should be ignored",
	}

	config := OutreachConfigFromMap(configMap)

	assert.Equal(t, 4, config.MaxRevisions)
}

func TestOutreachConfigFromMapWithFloats(t *testing.T) {
	// JSON numbers decode as float64.
	configMap := map[string]any{
		"acceptance_threshold": float64(80),
		"temperature":          0.2,
		"research_timeout":     float64(5),
	}

	config := OutreachConfigFromMap(configMap)

	assert.Equal(t, 80, config.AcceptanceThreshold)
	assert.Equal(t, 0.2, config.Temperature)
	assert.Equal(t, 5*time.Second, config.ResearchTimeoutDuration())
}

func TestOutreachConfigFromMapBools(t *testing.T) {
	configMap := map[string]any{
		"enable_speech":       true,
		"save_winning_drafts": false,
	}

	config := OutreachConfigFromMap(configMap)

	assert.True(t, config.EnableSpeech)
	assert.False(t, config.SaveWinningDrafts)
}

func TestOutreachConfigFromNilMap(t *testing.T) {
	config := OutreachConfigFromMap(nil)
	assert.Equal(t, DefaultOutreachConfig(), config)
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*OutreachConfig)
		errMsg string
	}{
		{"threshold above 100", func(c *OutreachConfig) { c.AcceptanceThreshold = 101 }, "acceptance_threshold"},
		{"negative clarification", func(c *OutreachConfig) { c.ClarificationThreshold = -1 }, "clarification_threshold"},
		{"negative budget", func(c *OutreachConfig) { c.MaxRevisions = -1 }, "revision budgets"},
		{"zero timeout", func(c *OutreachConfig) { c.RequestTimeout = 0 }, "request_timeout"},
		{"zero parallelism", func(c *OutreachConfig) { c.MaxParallelChannels = 0 }, "max_parallel_channels"},
		{"zero cache", func(c *OutreachConfig) { c.CacheMaxEntries = 0 }, "cache sizes"},
		{"unknown policy", func(c *OutreachConfig) {
			c.ChannelPolicies = map[envelope.ChannelID]envelope.ChannelPolicy{"fax": {}}
		}, "unknown channel policy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultOutreachConfig()
			tt.mutate(config)
			err := config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestPolicyFor(t *testing.T) {
	config := DefaultOutreachConfig()
	assert.Equal(t, envelope.ChannelSMS.Policy(), config.PolicyFor(envelope.ChannelSMS))

	config.ChannelPolicies = map[envelope.ChannelID]envelope.ChannelPolicy{
		envelope.ChannelSMS: {MaxWords: 20, Style: "terse"},
	}
	p := config.PolicyFor(envelope.ChannelSMS)
	assert.Equal(t, 20, p.MaxWords)
	assert.Equal(t, envelope.ChannelSMS, p.Channel)
}

// =============================================================================
// GLOBAL CONFIG TESTS
// =============================================================================

func TestGetOutreachConfigDefault(t *testing.T) {
	ResetOutreachConfig()

	config := GetOutreachConfig()

	assert.Equal(t, 2, config.MaxRevisions)
}

func TestSetAndGetOutreachConfig(t *testing.T) {
	defer ResetOutreachConfig()

	customConfig := DefaultOutreachConfig()
	customConfig.MaxRevisions = 5

	SetOutreachConfig(customConfig)

	assert.Equal(t, 5, GetOutreachConfig().MaxRevisions)
}

// =============================================================================
// ROUNDTRIP TESTS
// =============================================================================

func TestConfigRoundtrip(t *testing.T) {
	original := DefaultOutreachConfig()
	original.MaxRevisions = 4
	original.DefaultModel = "gpt-4o"
	original.EnableSpeech = true
	original.Temperature = 0.1

	restored := OutreachConfigFromMap(original.ToMap())

	assert.Equal(t, original, restored)
}
