// Package llm defines the text-generation capability consumed by every agent
// and the OpenAI-compatible implementation used in production.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
)

// Shape names the structured output a call expects. The empty shape is free text.
type Shape string

const (
	ShapeText     Shape = ""
	ShapeRoute    Shape = "route"
	ShapeProfile  Shape = "profile"
	ShapeBrief    Shape = "brief"
	ShapeDraft    Shape = "draft"
	ShapeCritique Shape = "critique"
	ShapeReply    Shape = "reply"
)

// Structured reports whether the shape expects a JSON object.
func (s Shape) Structured() bool {
	return s != ShapeText && s != ShapeDraft && s != ShapeReply
}

// Request is one generation call.
type Request struct {
	Model       string
	Shape       Shape
	System      string
	Messages    []envelope.Message
	Temperature float64 // sent as given; 0 is deterministic decoding
	MaxTokens   int
}

// Prompt returns the final user message, which carries the task.
func (r Request) Prompt() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Provider generates text for a request.
type Provider interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f ProviderFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// ExtractJSON finds and parses the first JSON object in a model response.
// Fenced code blocks and surrounding prose are tolerated.
func ExtractJSON(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)

	var result map[string]any
	if err := json.Unmarshal([]byte(text), &result); err == nil && result != nil {
		return result, nil
	}

	// Scan for a balanced object, skipping braces inside strings.
	for start := strings.IndexByte(text, '{'); start >= 0; {
		depth := 0
		inString := false
		escaped := false
		end := -1
		for i := start; i < len(text) && end < 0; i++ {
			c := text[i]
			switch {
			case escaped:
				escaped = false
			case c == '\\' && inString:
				escaped = true
			case c == '"':
				inString = !inString
			case inString:
			case c == '{':
				depth++
			case c == '}':
				depth--
				if depth == 0 {
					end = i
				}
			}
		}
		if end < 0 {
			break
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &result); err == nil && result != nil {
			return result, nil
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}

	return nil, fmt.Errorf("no valid JSON object found in response")
}

// Truncate shortens s to at most maxLen bytes plus an ellipsis, cutting on a
// rune boundary.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
