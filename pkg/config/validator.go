package config

import (
	"fmt"
	"net/url"

	"github.com/xhad/minirag/internal/models"
)

// Validate checks the full configuration surface and returns every
// violation found. An empty slice means the config is usable.
func (c *Config) Validate() []models.ValidationError {
	var errors []models.ValidationError

	if c.LLM.BaseURL == "" {
		errors = append(errors, models.ValidationError{
			Field:   "llm.base_url",
			Message: "model server URL is required",
		})
	} else if _, err := url.Parse(c.LLM.BaseURL); err != nil {
		errors = append(errors, models.ValidationError{
			Field:   "llm.base_url",
			Message: "invalid model server URL",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		errors = append(errors, models.ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 8192",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, models.ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.LLM.RequestsPerMinute <= 0 {
		errors = append(errors, models.ValidationError{
			Field:   "llm.requests_per_minute",
			Message: "requests_per_minute must be positive",
		})
	}

	if c.Embedding.Dimension < 1 {
		errors = append(errors, models.ValidationError{
			Field:   "embedding.dimension",
			Message: "dimension must be positive",
		})
	}

	if c.Embedding.MaxInputTokens < 1 {
		errors = append(errors, models.ValidationError{
			Field:   "embedding.max_input_tokens",
			Message: "max_input_tokens must be positive",
		})
	}

	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, models.ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.BatchSize < 1 {
		errors = append(errors, models.ValidationError{
			Field:   "database.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.Chunker.MaxTokens < 1 {
		errors = append(errors, models.ValidationError{
			Field:   "chunker.max_tokens",
			Message: "max_tokens must be positive",
		})
	}

	if c.Chunker.OverlapTokens < 0 || c.Chunker.OverlapTokens >= c.Chunker.MaxTokens {
		errors = append(errors, models.ValidationError{
			Field:   "chunker.overlap_tokens",
			Message: fmt.Sprintf("overlap_tokens must be non-negative and less than max_tokens (%d)", c.Chunker.MaxTokens),
		})
	}

	if c.Pipeline.TopK < 1 {
		errors = append(errors, models.ValidationError{
			Field:   "pipeline.top_k",
			Message: "top_k must be positive",
		})
	}

	if c.Pipeline.TopN < 1 || c.Pipeline.TopN > c.Pipeline.TopK {
		errors = append(errors, models.ValidationError{
			Field:   "pipeline.top_n",
			Message: "top_n must be between 1 and top_k",
		})
	}

	return errors
}
