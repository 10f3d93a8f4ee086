package knowledge

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"google.golang.org/genai"
)

// Embedder turns text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// =============================================================================
// GENAI EMBEDDER
// =============================================================================

// DefaultEmbeddingModel is used when GenAIConfig.Model is empty.
const DefaultEmbeddingModel = "text-embedding-004"

// GenAIConfig configures the Gemini embedding client.
type GenAIConfig struct {
	APIKey string
	Model  string
}

// GenAIEmbedder embeds text with the Gemini embedding API.
type GenAIEmbedder struct {
	client *genai.Client
	model  string
}

// NewGenAIEmbedder creates a Gemini-backed embedder.
func NewGenAIEmbedder(ctx context.Context, cfg GenAIConfig) (*GenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("genai embedder: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultEmbeddingModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai embedder: create client: %w", err)
	}
	return &GenAIEmbedder{client: client, model: cfg.Model}, nil
}

// Embed implements Embedder.
func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: "SEMANTIC_SIMILARITY",
	})
	if err != nil {
		return nil, fmt.Errorf("genai embed: %w", err)
	}
	if result == nil || len(result.Embeddings) == 0 || result.Embeddings[0] == nil {
		return nil, fmt.Errorf("genai embed: no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}

// Name implements Embedder.
func (e *GenAIEmbedder) Name() string {
	return "genai:" + e.model
}

// =============================================================================
// HASH EMBEDDER
// =============================================================================

// DefaultHashDimensions is the vector size of HashEmbedder.
const DefaultHashDimensions = 256

// HashEmbedder is a deterministic bag-of-words embedder (feature hashing over
// lowercase word tokens). It needs no network and is used when no embedding
// API key is configured, and in tests.
type HashEmbedder struct {
	Dimensions int
}

// NewHashEmbedder creates a HashEmbedder with DefaultHashDimensions.
func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{Dimensions: DefaultHashDimensions}
}

// Embed implements Embedder.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	dims := e.Dimensions
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	vec := make([]float32, dims)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		idx := int(sum % uint32(dims))
		// The high bit picks the sign so collisions partially cancel.
		if sum&0x80000000 != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	return vec, nil
}

// Name implements Embedder.
func (e *HashEmbedder) Name() string {
	return "hash"
}

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1].
// Vectors of different length are an error; a zero vector has similarity 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}
	if aMag == 0 || bMag == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}
