package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
)

// =============================================================================
// JSON EXTRACTION TESTS
// =============================================================================

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantKey string
		wantVal any
		wantErr bool
	}{
		{"plain object", `{"decision": "generate"}`, "decision", "generate", false},
		{"fenced block", "```json\n{\"decision\": \"refine\"}\n```", "decision", "refine", false},
		{"prose around", "Sure! Here it is: {\"score\": 80} Hope that helps.", "score", float64(80), false},
		{"brace inside string", `Result: {"feedback": "use {name} token", "score": 50}`, "feedback", "use {name} token", false},
		{"nested", `{"a": {"b": 1}, "c": 2}`, "c", float64(2), false},
		{"first invalid second valid", `{not json} then {"ok": true}`, "ok", true, false},
		{"no object", "I cannot help with that.", "", nil, true},
		{"unbalanced", `{"a": 1`, "", nil, true},
		{"array only", `[1, 2, 3]`, "", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVal, got[tt.wantKey])
		})
	}
}

func TestShapeStructured(t *testing.T) {
	assert.True(t, ShapeRoute.Structured())
	assert.True(t, ShapeCritique.Structured())
	assert.False(t, ShapeDraft.Structured())
	assert.False(t, ShapeText.Structured())
}

func TestRequestPrompt(t *testing.T) {
	req := Request{Messages: []envelope.Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
	}}
	assert.Equal(t, "second", req.Prompt())
	assert.Empty(t, Request{}.Prompt())
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{"short", "abc", 5, "abc"},
		{"ascii cut", "abcdef", 2, "ab..."},
		{"cut inside two-byte rune backs up", "abÜrgen", 3, "ab..."},
		{"cut after rune keeps it", "abÜrgen", 4, "abÜ..."},
		{"cut inside three-byte rune", "x日本", 2, "x..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.in, tt.maxLen)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

// =============================================================================
// OPENAI PROVIDER TESTS
// =============================================================================

func TestNewOpenAIProviderValidation(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{DefaultModel: "gpt-4o-mini"})
	require.Error(t, err)

	_, err = NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test"})
	require.Error(t, err)
}

func TestOpenAIProviderGenerate(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"decision\":\"generate\"}"}}]
		}`))
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(OpenAIConfig{
		APIKey:       "sk-test",
		BaseURL:      server.URL,
		DefaultModel: "gpt-4o-mini",
	})
	require.NoError(t, err)

	out, err := provider.Generate(context.Background(), Request{
		Shape:  ShapeRoute,
		System: "classify",
		Messages: []envelope.Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
			{Role: "user", Content: "write an email"},
		},
		Temperature: 0.2,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"decision":"generate"}`, out)

	assert.Equal(t, "gpt-4o-mini", captured["model"])
	msgs, ok := captured["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 4)
	assert.Equal(t, 0.2, captured["temperature"])
}

func TestOpenAIProviderRequestShape(t *testing.T) {
	tests := []struct {
		name        string
		shape       Shape
		temperature float64
		wantFormat  any
	}{
		{"structured shape uses json mode", ShapeCritique, 0, map[string]any{"type": "json_object"}},
		{"route at zero temperature", ShapeRoute, 0, map[string]any{"type": "json_object"}},
		{"draft is free text", ShapeDraft, 0.7, nil},
		{"reply is free text", ShapeReply, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured map[string]any
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"id": "x", "object": "chat.completion", "created": 1, "model": "m",
					"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "ok"}}]}`))
			}))
			defer server.Close()

			provider, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: server.URL, DefaultModel: "m"})
			require.NoError(t, err)

			_, err = provider.Generate(context.Background(), Request{
				Shape:       tt.shape,
				Messages:    []envelope.Message{{Role: "user", Content: "Respond with JSON."}},
				Temperature: tt.temperature,
			})
			require.NoError(t, err)

			temp, ok := captured["temperature"]
			require.True(t, ok, "temperature is always sent")
			assert.Equal(t, tt.temperature, temp)
			if tt.wantFormat == nil {
				assert.NotContains(t, captured, "response_format")
			} else {
				assert.Equal(t, tt.wantFormat, captured["response_format"])
			}
		})
	}
}

func TestOpenAIProviderEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "x", "object": "chat.completion", "created": 1, "model": "m", "choices": []}`))
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: server.URL, DefaultModel: "m"})
	require.NoError(t, err)

	_, err = provider.Generate(context.Background(), Request{Messages: []envelope.Message{{Role: "user", Content: "x"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty choices")
}

func TestProviderFunc(t *testing.T) {
	var p Provider = ProviderFunc(func(ctx context.Context, req Request) (string, error) {
		return "model:" + req.Model, nil
	})
	out, err := p.Generate(context.Background(), Request{Model: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "model:m1", out)
}
