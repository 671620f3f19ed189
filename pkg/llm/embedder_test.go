package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/minirag/internal/models"
	"github.com/xhad/minirag/pkg/llm"
)

// runeTokenizer counts every rune as one token.
type runeTokenizer struct{}

func (runeTokenizer) Encode(text string) []int {
	runes := []rune(text)
	tokens := make([]int, len(runes))
	for i, r := range runes {
		tokens[i] = int(r)
	}
	return tokens
}

func (runeTokenizer) Decode(tokens []int) string {
	runes := make([]rune, len(tokens))
	for i, t := range tokens {
		runes[i] = rune(t)
	}
	return string(runes)
}

// fakeEmbeddingClient returns one deterministic vector per input and
// records what it was asked to embed.
type fakeEmbeddingClient struct {
	received [][]string
	err      error
}

func (f *fakeEmbeddingClient) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	f.received = append(f.received, texts)
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = []float32{float32(len(text)), 1}
	}
	return vectors, nil
}

func newTestEmbedder(client *fakeEmbeddingClient, maxInput int) *llm.Embedder {
	return llm.NewEmbedderWithClient(llm.EmbedderConfig{
		Model:          "test-embed",
		MaxInputTokens: maxInput,
	}, runeTokenizer{}, client)
}

func TestEmbedBatch(t *testing.T) {
	client := &fakeEmbeddingClient{}
	emb := newTestEmbedder(client, 100)

	vectors, err := emb.Embed(context.Background(), []string{"one", "two", "three"})
	require.NoError(t, err)
	assert.Len(t, vectors, 3)
	require.Len(t, client.received, 1)
	assert.Equal(t, []string{"one", "two", "three"}, client.received[0])
}

func TestEmbedEmptyBatch(t *testing.T) {
	client := &fakeEmbeddingClient{}
	emb := newTestEmbedder(client, 100)

	_, err := emb.Embed(context.Background(), nil)
	require.Error(t, err)

	var embErr *models.EmbeddingError
	assert.True(t, errors.As(err, &embErr))
	assert.Empty(t, client.received, "the backend must not be called for an empty batch")
}

func TestEmbedTruncatesOversizedInput(t *testing.T) {
	client := &fakeEmbeddingClient{}
	emb := newTestEmbedder(client, 10)

	long := "abcdefghijklmnopqrstuvwxyz"
	_, err := emb.Embed(context.Background(), []string{long, "short"})
	require.NoError(t, err)

	require.Len(t, client.received, 1)
	assert.Equal(t, "abcdefghij", client.received[0][0], "oversized input is cut to the model's max input length")
	assert.Equal(t, "short", client.received[0][1], "inputs under the limit pass through unchanged")
}

func TestEmbedBackendFailure(t *testing.T) {
	client := &fakeEmbeddingClient{err: errors.New("connection refused")}
	emb := newTestEmbedder(client, 100)

	_, err := emb.Embed(context.Background(), []string{"text"})
	require.Error(t, err)

	var embErr *models.EmbeddingError
	assert.True(t, errors.As(err, &embErr))
}

func TestEmbedQueryUsesSameModel(t *testing.T) {
	client := &fakeEmbeddingClient{}
	emb := newTestEmbedder(client, 100)

	vector, err := emb.EmbedQuery(context.Background(), "what color is the sky?")
	require.NoError(t, err)
	assert.NotEmpty(t, vector)

	batch, err := emb.Embed(context.Background(), []string{"what color is the sky?"})
	require.NoError(t, err)
	assert.Equal(t, batch[0], vector, "query and document embeddings come from the same model")
}
