package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/xhad/minirag/internal/models"
	"github.com/xhad/minirag/internal/types"
)

// EmbeddingClient is the slice of the model client the embedder needs.
// *ollama.LLM satisfies it.
type EmbeddingClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

type EmbedderConfig struct {
	Model          string
	BaseURL        string
	MaxInputTokens int
}

// Embedder maps text to dense vectors through one shared model, so chunk
// and query vectors are comparable. The model is deterministic for
// identical input, modulo floating-point nondeterminism of the runtime.
type Embedder struct {
	config    EmbedderConfig
	client    EmbeddingClient
	tokenizer types.Tokenizer
}

// NewEmbedder connects to an Ollama server for embeddings. The tokenizer is
// used to enforce the model's input length.
func NewEmbedder(config EmbedderConfig, tokenizer types.Tokenizer) (*Embedder, error) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.MaxInputTokens == 0 {
		config.MaxInputTokens = 8192
	}

	client, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding model: %w", err)
	}

	return NewEmbedderWithClient(config, tokenizer, client), nil
}

// NewEmbedderWithClient wires an explicit client, used by tests and
// alternative backends.
func NewEmbedderWithClient(config EmbedderConfig, tokenizer types.Tokenizer, client EmbeddingClient) *Embedder {
	if config.MaxInputTokens == 0 {
		config.MaxInputTokens = 8192
	}
	return &Embedder{
		config:    config,
		client:    client,
		tokenizer: tokenizer,
	}
}

// Embed embeds a batch of texts. An empty batch is an EmbeddingError.
// Texts longer than the model's input limit are truncated to
// MaxInputTokens rather than rejected.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, &models.EmbeddingError{Op: "embed", Err: errors.New("empty input batch")}
	}

	truncated := make([]string, len(texts))
	for i, text := range texts {
		truncated[i] = e.truncate(text)
	}

	vectors, err := e.client.CreateEmbedding(ctx, truncated)
	if err != nil {
		return nil, &models.EmbeddingError{Op: "embed", Err: err}
	}
	if len(vectors) != len(texts) {
		return nil, &models.EmbeddingError{
			Op:  "embed",
			Err: fmt.Errorf("expected %d vectors, got %d", len(texts), len(vectors)),
		}
	}

	return vectors, nil
}

// EmbedQuery embeds a single query with the identical model and parameters
// used for documents.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) truncate(text string) string {
	tokens := e.tokenizer.Encode(text)
	if len(tokens) <= e.config.MaxInputTokens {
		return text
	}
	return e.tokenizer.Decode(tokens[:e.config.MaxInputTokens])
}
