// Package speech turns short drafts into audio.
//
// Audio is optional output: callers log a synthesis failure and return the
// response without it.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// maxInputChars is the longest text the speech endpoint accepts.
const maxInputChars = 4096

// AudioRef points at synthesized audio.
type AudioRef struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Format string `json:"format"`
	Bytes  int64  `json:"bytes"`
}

// Synthesizer converts text to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (AudioRef, error)
}

// OpenAIConfig configures OpenAISynthesizer.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string // tts-1 when empty
	Voice   string // alloy when empty
	Dir     string // output directory, created on demand
}

// OpenAISynthesizer writes mp3 files produced by the OpenAI speech endpoint.
type OpenAISynthesizer struct {
	client openai.Client
	model  string
	voice  string
	dir    string
}

// NewOpenAISynthesizer creates a synthesizer.
func NewOpenAISynthesizer(cfg OpenAIConfig) (*OpenAISynthesizer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("speech: openai api key missing")
	}
	if cfg.Dir == "" {
		return nil, errors.New("speech: output directory is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.SpeechModelTTS1
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.AudioSpeechNewParamsVoiceAlloy)
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAISynthesizer{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		voice:  cfg.Voice,
		dir:    cfg.Dir,
	}, nil
}

// Synthesize renders text to an mp3 file under the output directory.
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string) (AudioRef, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return AudioRef{}, errors.New("speech: empty text")
	}
	if len(text) > maxInputChars {
		text = strings.ToValidUTF8(text[:maxInputChars], "")
	}

	resp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          s.model,
		Voice:          openai.AudioSpeechNewParamsVoice(s.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return AudioRef{}, fmt.Errorf("speech: synthesize: %w", err)
	}
	defer resp.Body.Close()

	return writeAudio(s.dir, "mp3", resp.Body)
}

// writeAudio copies r into a new file in dir.
func writeAudio(dir, format string, r io.Reader) (AudioRef, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return AudioRef{}, fmt.Errorf("speech: create %s: %w", dir, err)
	}
	id := uuid.New().String()
	path := filepath.Join(dir, id+"."+format)

	f, err := os.Create(path)
	if err != nil {
		return AudioRef{}, fmt.Errorf("speech: create %s: %w", path, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return AudioRef{}, fmt.Errorf("speech: write %s: %w", path, err)
	}
	return AudioRef{ID: id, Path: path, Format: format, Bytes: n}, nil
}
