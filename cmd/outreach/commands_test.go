package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/outreach/coreengine/agents"
	"github.com/jeeves-cluster-organization/outreach/coreengine/app"
	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
	"github.com/jeeves-cluster-organization/outreach/coreengine/llm"
	"github.com/jeeves-cluster-organization/outreach/coreengine/observability"
	"github.com/jeeves-cluster-organization/outreach/coreengine/runtime"
	"github.com/jeeves-cluster-organization/outreach/coreengine/testutil"
)

const emailDraft = "Subject: Your RoboConf talk\n\nHi Aisha,\n\nLoved the on-device vision demo. Open to a call?\n\nBest,\nSam"

func noEnv(string) (string, bool) { return "", false }

func scriptedProvider() *testutil.MockLLMProvider {
	return testutil.NewMockLLMProvider().
		WithScript(llm.ShapeBrief, testutil.BriefJSON(envelope.ChannelEmail)).
		WithResponse(llm.ShapeDraft, "Channel: email", emailDraft).
		WithScript(llm.ShapeCritique, testutil.CritiqueJSON(90, "strong"))
}

// execute runs the CLI with args and returns stdout and stderr.
func execute(t *testing.T, provider llm.Provider, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	deps := cliDeps{options: app.Options{LLM: provider}, lookup: noEnv}
	root := newRootCmd(strings.NewReader(stdin), &stdout, &stderr, deps)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "outreach.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// =============================================================================
// GENERATE TESTS
// =============================================================================

func TestGeneratePrintsDrafts(t *testing.T) {
	stdout, _, err := execute(t, scriptedProvider(), "", "generate", "-m", testutil.AishaRequest)

	require.NoError(t, err)
	assert.Equal(t, "== email ==\n"+emailDraft+"\n", stdout)
}

func TestGenerateReadsStdin(t *testing.T) {
	stdout, _, err := execute(t, scriptedProvider(), testutil.AishaRequest+"\n", "generate")

	require.NoError(t, err)
	assert.Contains(t, stdout, "Hi Aisha")
}

func TestGenerateJSON(t *testing.T) {
	stdout, _, err := execute(t, scriptedProvider(), "", "generate", "--json", "--session", "s1", "-m", testutil.AishaRequest)
	require.NoError(t, err)

	var resp runtime.Response
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, emailDraft, resp.Content[envelope.ChannelEmail])
	assert.Equal(t, "completed_successfully", resp.Metadata["terminal_reason"])
}

func TestGenerateEmptyMessageGreets(t *testing.T) {
	stdout, _, err := execute(t, scriptedProvider(), "", "generate")

	require.NoError(t, err)
	assert.Equal(t, agents.GreetingReply+"\n", stdout)
}

func TestGenerateStreamAndTrace(t *testing.T) {
	stdout, stderr, err := execute(t, scriptedProvider(), "", "generate", "--stream", "--trace", "-m", testutil.AishaRequest)

	require.NoError(t, err)
	assert.Contains(t, stdout, "== email ==")
	assert.Contains(t, stderr, runtime.EventTypeStageStarted+" routing")
	assert.Contains(t, stderr, runtime.EventTypePipelineCompleted)
	assert.Contains(t, stderr, "PipelineCompleted", "trace dumps recorded bus events")
}

func TestGenerateSessionRefinesAcrossCalls(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "outreach.db")
	cfg := writeConfig(t, fmt.Sprintf("infra:\n  database_path: %q\n", dbPath))
	provider := testutil.NewMockLLMProvider().
		WithResponse(llm.ShapeDraft, "make it shorter", "Subject: RoboConf\n\nHi Aisha, quick call?\n\nSam").
		WithResponse(llm.ShapeDraft, "Channel: email", emailDraft).
		WithScript(llm.ShapeBrief, testutil.BriefJSON(envelope.ChannelEmail)).
		WithScript(llm.ShapeCritique, testutil.CritiqueJSON(90, "strong"))

	_, _, err := execute(t, provider, "", "--config", cfg, "generate", "--session", "s1", "-m", testutil.AishaRequest)
	require.NoError(t, err)

	stdout, _, err := execute(t, provider, "", "--config", cfg, "generate", "--session", "s1", "-m", "make it shorter")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Hi Aisha, quick call?")
}

func TestGenerateConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unparseable config", []string{"--config", writeConfig(t, "outreach: [")}, "config: parse"},
		{"bad log level", []string{"--log-level", "LOUD"}, "unknown log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append(tt.args, "generate", "-m", "hi")
			_, _, err := execute(t, scriptedProvider(), "", args...)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

// =============================================================================
// CLASSIFY AND VERSION TESTS
// =============================================================================

func TestClassify(t *testing.T) {
	stdout, _, err := execute(t, scriptedProvider(), "", "classify", "-m", "write an email and a text to Aisha")

	require.NoError(t, err)
	assert.Contains(t, stdout, "decision:   generate")
	assert.Contains(t, stdout, "confidence: 100")
	assert.Contains(t, stdout, "channels:   email, sms")
}

func TestVersion(t *testing.T) {
	stdout, _, err := execute(t, nil, "", "version")

	require.NoError(t, err)
	assert.Equal(t, "outreach "+observability.ServiceVersion+"\n", stdout)
}
