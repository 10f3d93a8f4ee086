package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/jeeves-cluster-organization/outreach/coreengine/observability"
)

// OpenAIConfig configures an OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string // empty = api.openai.com
	DefaultModel string
	Timeout      time.Duration // per call; 0 = caller's context only
}

// OpenAIProvider implements Provider using the official openai-go SDK.
type OpenAIProvider struct {
	client       openai.Client
	defaultModel string
	timeout      time.Duration
}

// NewOpenAIProvider creates a provider from config.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing; set OUTREACH_OPENAI_API_KEY")
	}
	if cfg.DefaultModel == "" {
		return nil, errors.New("llm model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIProvider{
		client:       openai.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		timeout:      cfg.Timeout,
	}, nil
}

// Generate runs one chat completion.
func (o *OpenAIProvider) Generate(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = o.defaultModel
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			msgs = append(msgs, openai.ChatCompletionMessageParamOfAssistant(m.Content))
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	// Temperature is always sent so a requested 0 is not replaced by the API default.
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    msgs,
		Temperature: openai.Float(req.Temperature),
	}
	if req.Shape.Structured() {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		}
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	durationMS := int(time.Since(start).Milliseconds())
	if err != nil {
		observability.RecordLLMCall("openai", model, "error", durationMS)
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		observability.RecordLLMCall("openai", model, "error", durationMS)
		return "", errors.New("openai: empty choices")
	}
	observability.RecordLLMCall("openai", model, "success", durationMS)
	return resp.Choices[0].Message.Content, nil
}
