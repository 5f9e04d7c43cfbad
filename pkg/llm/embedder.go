package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/time/rate"
)

// EmbedderConfig represents the configuration for the embedding backend.
type EmbedderConfig struct {
	Model     string
	BaseURL   string  // Ollama server URL
	RateLimit float64 // embedding requests per second, 0 means unlimited
}

// Embedder turns chunk and query text into fixed-dimension vectors via an
// Ollama embedding model.
type Embedder struct {
	config  EmbedderConfig
	llm     *ollama.LLM
	limiter *rate.Limiter
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	emb, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding model: %w", err)
	}

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}

	return &Embedder{
		config:  config,
		llm:     emb,
		limiter: limiter,
	}, nil
}

// Embed returns one vector per input text, in input order. Failures from the
// backend propagate as-is; there is no retry at this layer.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	embeddings, err := e.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding backend returned %d vectors for %d texts", len(embeddings), len(texts))
	}
	return embeddings, nil
}
