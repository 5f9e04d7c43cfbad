package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	if c.LLM.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "Ollama base URL is required",
		})
	} else if _, err := url.Parse(c.LLM.BaseURL); err != nil {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "invalid Ollama base URL",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 4096",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.LLM.RateLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "llm.rate_limit",
			Message: "rate_limit cannot be negative",
		})
	}

	// Validate Segmenter config
	if c.Segmenter.WindowSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "segmenter.window_size",
			Message: "window_size must be positive",
		})
	}

	if c.Segmenter.Overlap < 0 || c.Segmenter.Overlap >= c.Segmenter.WindowSize {
		errors = append(errors, ValidationError{
			Field:   "segmenter.overlap",
			Message: "overlap must be non-negative and less than window_size",
		})
	}

	// Validate Index config
	if c.Index.Backend != "memory" && c.Index.Backend != "pgvector" {
		errors = append(errors, ValidationError{
			Field:   "index.backend",
			Message: fmt.Sprintf("unknown backend %q, must be memory or pgvector", c.Index.Backend),
		})
	}

	if c.Index.Oversample < 3 {
		errors = append(errors, ValidationError{
			Field:   "index.oversample",
			Message: "oversample must be at least 3",
		})
	}

	if c.Index.TopK < 1 {
		errors = append(errors, ValidationError{
			Field:   "index.top_k",
			Message: "top_k must be positive",
		})
	}

	// Validate Database config
	if c.Index.Backend == "pgvector" && c.Database.URL == "" {
		errors = append(errors, ValidationError{
			Field:   "database.url",
			Message: "database URL is required for the pgvector backend",
		})
	}

	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	return errors
}
