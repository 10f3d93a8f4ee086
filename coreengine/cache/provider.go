package cache

import (
	"context"

	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
	"github.com/jeeves-cluster-organization/outreach/coreengine/llm"
	"github.com/jeeves-cluster-organization/outreach/coreengine/logging"
)

// Provider wraps an llm.Provider with the response cache. A hit returns the
// stored text without calling upstream; only successful responses are stored.
type Provider struct {
	upstream llm.Provider
	cache    *ResponseCache
	logger   logging.Logger
}

// NewProvider creates a caching provider.
func NewProvider(upstream llm.Provider, cache *ResponseCache, logger logging.Logger) *Provider {
	return &Provider{
		upstream: upstream,
		cache:    cache,
		logger:   logger.Bind("component", "response_cache"),
	}
}

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (string, error) {
	conversation, extra := requestKey(req)
	key, err := Key(req.Model, req.Shape, conversation, extra)
	if err != nil {
		p.logger.Warn("cache_key_failed", "error", err.Error())
		return p.upstream.Generate(ctx, req)
	}

	if value, ok := p.cache.get(key); ok {
		p.logger.Debug("cache_hit", "shape", string(req.Shape), "model", req.Model)
		return value, nil
	}

	value, err := p.upstream.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	p.cache.set(key, value)
	return value, nil
}

func requestKey(req llm.Request) ([]envelope.Message, map[string]any) {
	conversation := make([]envelope.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		conversation = append(conversation, envelope.Message{Role: "system", Content: req.System})
	}
	conversation = append(conversation, req.Messages...)
	extra := map[string]any{
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
	}
	return conversation, extra
}
