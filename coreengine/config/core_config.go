// Package config provides outreach orchestration configuration.
//
// This module contains configuration relevant to the drafting pipeline:
//   - Thresholds (routing confidence, critique acceptance)
//   - Revision budgets
//   - Timeouts and fan-out limits
//   - Cache sizing
//
// Collaborator endpoints (model API, database path, search URL) live in
// InfraConfig. Environment parsing happens in cmd/ bootstrap via
// ApplyEnvOverrides; nothing in coreengine reads the environment directly.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
)

// OutreachConfig holds pipeline configuration.
type OutreachConfig struct {
	// Model
	DefaultModel string  `json:"default_model"`
	Temperature  float64 `json:"temperature"`

	// Thresholds (0..100)
	ClarificationThreshold int `json:"clarification_threshold"` // Route to clarification below this
	AcceptanceThreshold    int `json:"acceptance_threshold"`    // Channel passes critique at or above this

	// Revision Budget
	MaxRevisions            int `json:"max_revisions"`
	RichContextMaxRevisions int `json:"rich_context_max_revisions"` // Budget when the request already carries rich context
	RichContextMinChars     int `json:"rich_context_min_chars"`

	// Timeouts (seconds)
	RequestTimeout  int `json:"request_timeout"`
	LLMTimeout      int `json:"llm_timeout"`
	ResearchTimeout int `json:"research_timeout"`

	// Fan-out
	MaxResearchQueries  int `json:"max_research_queries"`
	MaxParallelChannels int `json:"max_parallel_channels"`
	ExampleLimit        int `json:"example_limit"` // Draft examples retrieved per request

	// Response Cache
	CacheTTLSeconds int `json:"cache_ttl_seconds"`
	CacheMaxEntries int `json:"cache_max_entries"`
	CacheEvictBatch int `json:"cache_evict_batch"`

	// Collaborators
	ScrapeMaxBytes     int  `json:"scrape_max_bytes"`
	RateLimitPerMinute int  `json:"rate_limit_per_minute"` // Per session; 0 disables
	EnableSpeech       bool `json:"enable_speech"`
	EnableHTMLRender   bool `json:"enable_html_render"`
	SaveWinningDrafts  bool `json:"save_winning_drafts"`

	// Channel policy overrides, keyed by channel
	ChannelPolicies map[envelope.ChannelID]envelope.ChannelPolicy `json:"channel_policies,omitempty"`

	// Logging
	LogLevel string `json:"log_level"`
}

// DefaultOutreachConfig returns an OutreachConfig with default values.
func DefaultOutreachConfig() *OutreachConfig {
	return &OutreachConfig{
		// Model
		DefaultModel: "gpt-4o-mini",
		Temperature:  0.7,

		// Thresholds
		ClarificationThreshold: 40,
		AcceptanceThreshold:    70,

		// Revision Budget
		MaxRevisions:            2,
		RichContextMaxRevisions: 1,
		RichContextMinChars:     600,

		// Timeouts (seconds)
		RequestTimeout:  120,
		LLMTimeout:      60,
		ResearchTimeout: 10,

		// Fan-out
		MaxResearchQueries:  3,
		MaxParallelChannels: 4,
		ExampleLimit:        3,

		// Response Cache
		CacheTTLSeconds: 300,
		CacheMaxEntries: 1000,
		CacheEvictBatch: 200,

		// Collaborators
		ScrapeMaxBytes:     1 << 20,
		RateLimitPerMinute: 30,
		EnableSpeech:       false,
		EnableHTMLRender:   true,
		SaveWinningDrafts:  true,

		// Logging
		LogLevel: "INFO",
	}
}

// OutreachConfigFromMap creates OutreachConfig from a map.
// Unknown keys are ignored. Numbers may arrive as int or float64 (JSON, YAML).
func OutreachConfigFromMap(config map[string]any) *OutreachConfig {
	c := DefaultOutreachConfig()

	if v, ok := config["default_model"].(string); ok {
		c.DefaultModel = v
	}
	setFloat(config, "temperature", &c.Temperature)
	setInt(config, "clarification_threshold", &c.ClarificationThreshold)
	setInt(config, "acceptance_threshold", &c.AcceptanceThreshold)
	setInt(config, "max_revisions", &c.MaxRevisions)
	setInt(config, "rich_context_max_revisions", &c.RichContextMaxRevisions)
	setInt(config, "rich_context_min_chars", &c.RichContextMinChars)
	setInt(config, "request_timeout", &c.RequestTimeout)
	setInt(config, "llm_timeout", &c.LLMTimeout)
	setInt(config, "research_timeout", &c.ResearchTimeout)
	setInt(config, "max_research_queries", &c.MaxResearchQueries)
	setInt(config, "max_parallel_channels", &c.MaxParallelChannels)
	setInt(config, "example_limit", &c.ExampleLimit)
	setInt(config, "cache_ttl_seconds", &c.CacheTTLSeconds)
	setInt(config, "cache_max_entries", &c.CacheMaxEntries)
	setInt(config, "cache_evict_batch", &c.CacheEvictBatch)
	setInt(config, "scrape_max_bytes", &c.ScrapeMaxBytes)
	setInt(config, "rate_limit_per_minute", &c.RateLimitPerMinute)
	if v, ok := config["enable_speech"].(bool); ok {
		c.EnableSpeech = v
	}
	if v, ok := config["enable_html_render"].(bool); ok {
		c.EnableHTMLRender = v
	}
	if v, ok := config["save_winning_drafts"].(bool); ok {
		c.SaveWinningDrafts = v
	}
	if v, ok := config["log_level"].(string); ok {
		c.LogLevel = v
	}

	return c
}

func setInt(config map[string]any, key string, dst *int) {
	switch v := config[key].(type) {
	case int:
		*dst = v
	case int64:
		*dst = int(v)
	case float64:
		*dst = int(v)
	}
}

func setFloat(config map[string]any, key string, dst *float64) {
	switch v := config[key].(type) {
	case float64:
		*dst = v
	case int:
		*dst = float64(v)
	}
}

// ToMap converts config to a map. Channel policy overrides are not included.
func (c *OutreachConfig) ToMap() map[string]any {
	return map[string]any{
		"default_model":              c.DefaultModel,
		"temperature":                c.Temperature,
		"clarification_threshold":    c.ClarificationThreshold,
		"acceptance_threshold":       c.AcceptanceThreshold,
		"max_revisions":              c.MaxRevisions,
		"rich_context_max_revisions": c.RichContextMaxRevisions,
		"rich_context_min_chars":     c.RichContextMinChars,
		"request_timeout":            c.RequestTimeout,
		"llm_timeout":                c.LLMTimeout,
		"research_timeout":           c.ResearchTimeout,
		"max_research_queries":       c.MaxResearchQueries,
		"max_parallel_channels":      c.MaxParallelChannels,
		"example_limit":              c.ExampleLimit,
		"cache_ttl_seconds":          c.CacheTTLSeconds,
		"cache_max_entries":          c.CacheMaxEntries,
		"cache_evict_batch":          c.CacheEvictBatch,
		"scrape_max_bytes":           c.ScrapeMaxBytes,
		"rate_limit_per_minute":      c.RateLimitPerMinute,
		"enable_speech":              c.EnableSpeech,
		"enable_html_render":         c.EnableHTMLRender,
		"save_winning_drafts":        c.SaveWinningDrafts,
		"log_level":                  c.LogLevel,
	}
}

// Validate rejects values the pipeline cannot run with.
func (c *OutreachConfig) Validate() error {
	var problems []string
	if c.ClarificationThreshold < 0 || c.ClarificationThreshold > 100 {
		problems = append(problems, "clarification_threshold must be within 0..100")
	}
	if c.AcceptanceThreshold < 0 || c.AcceptanceThreshold > 100 {
		problems = append(problems, "acceptance_threshold must be within 0..100")
	}
	if c.MaxRevisions < 0 || c.RichContextMaxRevisions < 0 {
		problems = append(problems, "revision budgets must not be negative")
	}
	if c.RequestTimeout <= 0 {
		problems = append(problems, "request_timeout must be positive")
	}
	if c.MaxParallelChannels <= 0 {
		problems = append(problems, "max_parallel_channels must be positive")
	}
	if c.CacheMaxEntries <= 0 || c.CacheEvictBatch <= 0 {
		problems = append(problems, "cache sizes must be positive")
	}
	for channel := range c.ChannelPolicies {
		if !channel.Valid() {
			problems = append(problems, fmt.Sprintf("unknown channel policy %q", channel))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid outreach config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// PolicyFor returns the channel policy with any configured override applied.
func (c *OutreachConfig) PolicyFor(channel envelope.ChannelID) envelope.ChannelPolicy {
	if p, ok := c.ChannelPolicies[channel]; ok {
		p.Channel = channel
		return p
	}
	return channel.Policy()
}

// RequestTimeoutDuration returns RequestTimeout as a duration.
func (c *OutreachConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// ResearchTimeoutDuration returns ResearchTimeout as a duration.
func (c *OutreachConfig) ResearchTimeoutDuration() time.Duration {
	return time.Duration(c.ResearchTimeout) * time.Second
}

// CacheTTL returns CacheTTLSeconds as a duration.
func (c *OutreachConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// =============================================================================
// GLOBAL CONFIG (set by cmd bootstrap)
// =============================================================================

var (
	globalOutreachConfig *OutreachConfig
	configMu             sync.RWMutex
)

// GetOutreachConfig gets the configuration instance.
// Returns the injected config or defaults.
func GetOutreachConfig() *OutreachConfig {
	configMu.RLock()
	defer configMu.RUnlock()

	if globalOutreachConfig == nil {
		return DefaultOutreachConfig()
	}
	return globalOutreachConfig
}

// SetOutreachConfig sets the configuration instance.
// Called by cmd bootstrap after loading the file and environment overrides.
func SetOutreachConfig(config *OutreachConfig) {
	configMu.Lock()
	defer configMu.Unlock()

	globalOutreachConfig = config
}

// ResetOutreachConfig resets the config to nil (useful for testing).
// After reset, GetOutreachConfig() will return defaults.
func ResetOutreachConfig() {
	configMu.Lock()
	defer configMu.Unlock()

	globalOutreachConfig = nil
}
