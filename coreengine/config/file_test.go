package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
)

const sampleYAML = `
outreach:
  default_model: gpt-4o
  max_revisions: 3
  temperature: 0.3
  enable_speech: true
infra:
  database_path: /tmp/outreach.db
  search_url: http://search.local/
channels:
  - channel: text
    max_words: 25
    style: very short
`

func TestParse(t *testing.T) {
	settings, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", settings.Outreach.DefaultModel)
	assert.Equal(t, 3, settings.Outreach.MaxRevisions)
	assert.Equal(t, 0.3, settings.Outreach.Temperature)
	assert.True(t, settings.Outreach.EnableSpeech)
	assert.Equal(t, 70, settings.Outreach.AcceptanceThreshold)

	assert.Equal(t, "/tmp/outreach.db", settings.Infra.DatabasePath)
	assert.Equal(t, "http://search.local/", settings.Infra.SearchURL)
	assert.Equal(t, "tts-1", settings.Infra.SpeechModel)

	p := settings.Outreach.PolicyFor(envelope.ChannelSMS)
	assert.Equal(t, 25, p.MaxWords)
	assert.Equal(t, "very short", p.Style)
}

func TestParseRejectsUnknownChannel(t *testing.T) {
	_, err := Parse([]byte("channels:\n  - channel: fax\n    max_words: 10\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid channel")
}

func TestParseRejectsInvalidValues(t *testing.T) {
	_, err := Parse([]byte("outreach:\n  acceptance_threshold: 150\n"))
	require.Error(t, err)
}

func TestParseMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("outreach: [unclosed"))
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outreach.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	settings, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, settings.Outreach.MaxRevisions)
}

func TestLoadFileMissingYieldsDefaults(t *testing.T) {
	settings, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultOutreachConfig(), settings.Outreach)

	settings, err = LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, DefaultInfraConfig(), settings.Infra)
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"OUTREACH_MODEL":          "gpt-4.1",
		"OUTREACH_MAX_REVISIONS":  "1",
		"OUTREACH_DATABASE_PATH":  "/data/o.db",
		"OUTREACH_ENABLE_SPEECH":  "true",
		"OUTREACH_OPENAI_API_KEY": "sk-test",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	settings, err := LoadFile("")
	require.NoError(t, err)
	require.NoError(t, settings.ApplyEnvOverrides(lookup))

	assert.Equal(t, "gpt-4.1", settings.Outreach.DefaultModel)
	assert.Equal(t, 1, settings.Outreach.MaxRevisions)
	assert.True(t, settings.Outreach.EnableSpeech)
	assert.Equal(t, "/data/o.db", settings.Infra.DatabasePath)
	assert.Equal(t, "sk-test", settings.Infra.OpenAIAPIKey)
}

func TestApplyEnvOverridesMalformed(t *testing.T) {
	settings, err := LoadFile("")
	require.NoError(t, err)

	err = settings.ApplyEnvOverrides(func(key string) (string, bool) {
		if key == "OUTREACH_REQUEST_TIMEOUT" {
			return "soon", true
		}
		return "", false
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OUTREACH_REQUEST_TIMEOUT")
}
