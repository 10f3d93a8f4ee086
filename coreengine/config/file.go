package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
)

// InfraConfig holds collaborator endpoints and credentials.
type InfraConfig struct {
	OpenAIAPIKey   string `yaml:"openai_api_key"`
	OpenAIBaseURL  string `yaml:"openai_base_url"`
	GeminiAPIKey   string `yaml:"gemini_api_key"`
	EmbeddingModel string `yaml:"embedding_model"`
	SpeechModel    string `yaml:"speech_model"`
	SpeechVoice    string `yaml:"speech_voice"`
	SpeechDir      string `yaml:"speech_dir"`    // where synthesized audio is written
	DatabasePath   string `yaml:"database_path"` // empty = in-memory store
	SearchURL      string `yaml:"search_url"`    // query appended as ?q=
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
}

// DefaultInfraConfig returns infra defaults. Credentials are left empty.
func DefaultInfraConfig() InfraConfig {
	return InfraConfig{
		EmbeddingModel: "text-embedding-004",
		SpeechModel:    "tts-1",
		SpeechVoice:    "alloy",
		SpeechDir:      "audio",
		SearchURL:      "https://html.duckduckgo.com/html/",
	}
}

// Settings is everything loaded from a config file.
type Settings struct {
	Outreach *OutreachConfig
	Infra    InfraConfig
}

type fileDocument struct {
	Outreach map[string]any           `yaml:"outreach"`
	Infra    InfraConfig              `yaml:"infra"`
	Channels []envelope.ChannelPolicy `yaml:"channels"`
}

// LoadFile reads a YAML settings file. A missing file yields defaults.
func LoadFile(path string) (*Settings, error) {
	settings := &Settings{Outreach: DefaultOutreachConfig(), Infra: DefaultInfraConfig()}
	if strings.TrimSpace(path) == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return settings, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML settings, applying defaults for absent keys.
func Parse(data []byte) (*Settings, error) {
	doc := fileDocument{Infra: DefaultInfraConfig()}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	cfg := OutreachConfigFromMap(doc.Outreach)
	if len(doc.Channels) > 0 {
		cfg.ChannelPolicies = make(map[envelope.ChannelID]envelope.ChannelPolicy, len(doc.Channels))
		for _, p := range doc.Channels {
			channel, err := envelope.ParseChannel(string(p.Channel))
			if err != nil {
				return nil, fmt.Errorf("config: %w", err)
			}
			p.Channel = channel
			cfg.ChannelPolicies[channel] = p
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &Settings{Outreach: cfg, Infra: doc.Infra}, nil
}

// ApplyEnvOverrides overlays OUTREACH_* variables using the given lookup
// (os.LookupEnv in production). Malformed numbers are reported, not ignored.
func (s *Settings) ApplyEnvOverrides(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("OUTREACH_MODEL", &s.Outreach.DefaultModel)
	str("OUTREACH_LOG_LEVEL", &s.Outreach.LogLevel)
	str("OUTREACH_OPENAI_API_KEY", &s.Infra.OpenAIAPIKey)
	str("OUTREACH_OPENAI_BASE_URL", &s.Infra.OpenAIBaseURL)
	str("OUTREACH_GEMINI_API_KEY", &s.Infra.GeminiAPIKey)
	str("OUTREACH_DATABASE_PATH", &s.Infra.DatabasePath)
	str("OUTREACH_SEARCH_URL", &s.Infra.SearchURL)
	str("OUTREACH_OTLP_ENDPOINT", &s.Infra.OTLPEndpoint)
	str("OUTREACH_SPEECH_DIR", &s.Infra.SpeechDir)

	for key, dst := range map[string]*int{
		"OUTREACH_MAX_REVISIONS":           &s.Outreach.MaxRevisions,
		"OUTREACH_REQUEST_TIMEOUT":         &s.Outreach.RequestTimeout,
		"OUTREACH_RATE_LIMIT_PER_MINUTE":   &s.Outreach.RateLimitPerMinute,
		"OUTREACH_ACCEPTANCE_THRESHOLD":    &s.Outreach.AcceptanceThreshold,
		"OUTREACH_CLARIFICATION_THRESHOLD": &s.Outreach.ClarificationThreshold,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup("OUTREACH_ENABLE_SPEECH"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: OUTREACH_ENABLE_SPEECH: %w", err)
		}
		s.Outreach.EnableSpeech = b
	}
	return s.Outreach.Validate()
}
