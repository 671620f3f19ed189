package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/minirag/internal/models"
	"github.com/xhad/minirag/pkg/pipeline"
	"github.com/xhad/minirag/pkg/retriever"
	"github.com/xhad/minirag/pkg/store"
)

// fakeChunker returns one chunk per input sentence.
type fakeChunker struct {
	err   error
	calls int
}

func (f *fakeChunker) Chunk(text, docID string, metadata map[string]interface{}) ([]models.Chunk, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var chunks []models.Chunk
	for i, sentence := range strings.SplitAfter(text, ". ") {
		if sentence == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{
			ID:         fmt.Sprintf("%s_chunk_%04d", docID, i),
			DocumentID: docID,
			Text:       sentence,
			Index:      i,
			Metadata:   metadata,
		})
	}
	return chunks, nil
}

// fakeEmbedder maps texts to fixed vectors by keyword so similar texts
// land close together.
type fakeEmbedder struct {
	err       error
	failAfter int
	calls     int
}

func (f *fakeEmbedder) vector(text string) []float32 {
	switch {
	case strings.Contains(text, "sky"):
		return []float32{1, 0, 0}
	case strings.Contains(text, "water"):
		return []float32{0, 1, 0}
	default:
		return []float32{0, 0, 1}
	}
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil && (f.failAfter == 0 || f.calls > f.failAfter) {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = f.vector(text)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// fakeReranker passes candidates through in order, recording the call.
type fakeReranker struct {
	calls int
}

func (f *fakeReranker) Rerank(_ context.Context, _ string, candidates []models.Candidate, topN int) []models.RerankedCandidate {
	f.calls++
	if topN > len(candidates) {
		topN = len(candidates)
	}
	out := make([]models.RerankedCandidate, topN)
	for i := 0; i < topN; i++ {
		out[i] = models.RerankedCandidate{
			Chunk:         candidates[i].Chunk,
			Relevance:     candidates[i].Score,
			RetrievalRank: i,
		}
	}
	return out
}

type fakeGenerator struct {
	answer models.Answer
	calls  int
	got    []models.RerankedCandidate
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, candidates []models.RerankedCandidate) models.Answer {
	f.calls++
	f.got = candidates
	return f.answer
}

type fakeRetriever struct {
	errs       []error
	candidates []models.Candidate
	calls      int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, _ int) ([]models.Candidate, error) {
	f.calls++
	if f.calls <= len(f.errs) && f.errs[f.calls-1] != nil {
		return nil, f.errs[f.calls-1]
	}
	return f.candidates, nil
}

// failingIndex wraps the memory store and fails every upsert.
type failingIndex struct {
	*store.MemoryStore
	deleted []string
}

func (f *failingIndex) Upsert(_ context.Context, _ []models.Chunk, _ [][]float32) error {
	return &models.IndexError{Op: "upsert", Err: errors.New("disk full")}
}

func (f *failingIndex) DeleteByDocument(ctx context.Context, documentID string) (bool, error) {
	f.deleted = append(f.deleted, documentID)
	return f.MemoryStore.DeleteByDocument(ctx, documentID)
}

func newPipeline(index *store.MemoryStore, embedder *fakeEmbedder, reranker *fakeReranker, generator *fakeGenerator) *pipeline.Pipeline {
	return pipeline.New(
		pipeline.Config{TopK: 20, TopN: 2, BatchSize: 2},
		&fakeChunker{},
		embedder,
		index,
		retriever.New(embedder, index),
		reranker,
		generator,
	)
}

func TestIngestStoresChunks(t *testing.T) {
	index := store.NewMemoryStore(3)
	p := newPipeline(index, &fakeEmbedder{}, &fakeReranker{}, &fakeGenerator{})

	result, err := p.Ingest(context.Background(), "The sky is blue. Water is wet. Grass is green.", map[string]interface{}{"title": "Facts"})
	require.NoError(t, err)

	assert.NotEmpty(t, result.DocumentID)
	assert.Equal(t, 3, result.ChunkCount)

	docs, err := index.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, result.DocumentID, docs[0].DocumentID)
	assert.Equal(t, 3, docs[0].ChunkCount)
	assert.Equal(t, "Facts", docs[0].Title)
}

func TestIngestEmptyText(t *testing.T) {
	index := store.NewMemoryStore(3)
	chunker := &fakeChunker{}
	p := pipeline.New(pipeline.Config{}, chunker, &fakeEmbedder{}, index,
		retriever.New(&fakeEmbedder{}, index), &fakeReranker{}, &fakeGenerator{})

	result, err := p.Ingest(context.Background(), "   \n  ", nil)
	require.NoError(t, err)

	assert.Equal(t, models.IngestResult{}, result)
	assert.Zero(t, chunker.calls)
}

func TestIngestEmbedFailureStoresNothing(t *testing.T) {
	index := store.NewMemoryStore(3)
	// BatchSize 2 puts three chunks into two batches; the second fails.
	embedder := &fakeEmbedder{err: errors.New("embedding backend down"), failAfter: 1}
	p := newPipeline(index, embedder, &fakeReranker{}, &fakeGenerator{})

	_, err := p.Ingest(context.Background(), "The sky is blue. Water is wet. Grass is green.", nil)
	require.Error(t, err)

	docs, listErr := index.ListDocuments(context.Background())
	require.NoError(t, listErr)
	assert.Empty(t, docs)
}

func TestIngestUpsertFailureCleansUp(t *testing.T) {
	index := &failingIndex{MemoryStore: store.NewMemoryStore(3)}
	embedder := &fakeEmbedder{}
	p := pipeline.New(pipeline.Config{BatchSize: 10}, &fakeChunker{}, embedder, index,
		retriever.New(embedder, index), &fakeReranker{}, &fakeGenerator{})

	_, err := p.Ingest(context.Background(), "The sky is blue. Water is wet.", nil)
	require.Error(t, err)

	var indexErr *models.IndexError
	assert.ErrorAs(t, err, &indexErr)
	assert.Len(t, index.deleted, 1, "failed ingest triggers cleanup")
}

func TestQueryEndToEnd(t *testing.T) {
	index := store.NewMemoryStore(3)
	embedder := &fakeEmbedder{}
	reranker := &fakeReranker{}
	generator := &fakeGenerator{answer: models.Answer{
		Text:       "The sky is blue [1].",
		Sources:    []models.Source{{Index: 1, Text: "The sky is blue. "}},
		HasAnswer:  true,
		TokensUsed: 42,
	}}
	p := newPipeline(index, embedder, reranker, generator)

	_, err := p.Ingest(context.Background(), "The sky is blue. Water is wet. Grass is green.", nil)
	require.NoError(t, err)

	result, err := p.Query(context.Background(), "What color is the sky?")
	require.NoError(t, err)

	assert.Equal(t, "The sky is blue [1].", result.Answer)
	assert.True(t, result.HasAnswer)
	assert.Equal(t, 42, result.TokensUsed)
	assert.Equal(t, 3, result.RetrievalCount)
	assert.Equal(t, 2, result.RerankCount)
	require.Len(t, result.Sources, 1)

	require.Len(t, generator.got, 2)
	assert.Equal(t, "The sky is blue. ", generator.got[0].Chunk.Text, "most similar chunk ranks first")
}

func TestQueryEmptyIndexShortCircuits(t *testing.T) {
	index := store.NewMemoryStore(3)
	reranker := &fakeReranker{}
	generator := &fakeGenerator{}
	p := newPipeline(index, &fakeEmbedder{}, reranker, generator)

	result, err := p.Query(context.Background(), "What color is the sky?")
	require.NoError(t, err)

	assert.Equal(t, "I cannot answer this question as no relevant documents were found.", result.Answer)
	assert.False(t, result.HasAnswer)
	assert.Empty(t, result.Sources)
	assert.NotNil(t, result.Sources)
	assert.Zero(t, result.TokensUsed)
	assert.Zero(t, result.RetrievalCount)
	assert.Zero(t, reranker.calls)
	assert.Zero(t, generator.calls)
}

func TestQueryEmptyQuestion(t *testing.T) {
	p := newPipeline(store.NewMemoryStore(3), &fakeEmbedder{}, &fakeReranker{}, &fakeGenerator{})

	_, err := p.Query(context.Background(), "  ")
	require.Error(t, err)

	var validationErr *models.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestQueryEmbeddingFailureDeclines(t *testing.T) {
	embErr := &models.EmbeddingError{Op: "embed", Err: errors.New("backend down")}
	fake := &fakeRetriever{errs: []error{embErr}}
	generator := &fakeGenerator{}
	p := pipeline.New(pipeline.Config{}, &fakeChunker{}, &fakeEmbedder{}, store.NewMemoryStore(3),
		fake, &fakeReranker{}, generator)

	result, err := p.Query(context.Background(), "anything")
	require.NoError(t, err)

	assert.False(t, result.HasAnswer)
	assert.Contains(t, result.Answer, "I cannot answer")
	assert.Zero(t, generator.calls)
}

func TestQueryRetriesTransientIndexError(t *testing.T) {
	transient := &models.IndexError{Op: "search", Err: errors.New("connection reset"), Transient: true}
	fake := &fakeRetriever{
		errs: []error{transient},
		candidates: []models.Candidate{
			{Chunk: models.Chunk{ID: "doc1_chunk_0000", Text: "The sky is blue."}, Score: 0.9},
		},
	}
	generator := &fakeGenerator{answer: models.Answer{Text: "blue [1]", HasAnswer: true}}
	p := pipeline.New(pipeline.Config{}, &fakeChunker{}, &fakeEmbedder{}, store.NewMemoryStore(3),
		fake, &fakeReranker{}, generator)

	result, err := p.Query(context.Background(), "What color is the sky?")
	require.NoError(t, err)

	assert.Equal(t, 2, fake.calls)
	assert.True(t, result.HasAnswer)
	assert.Equal(t, 1, result.RetrievalCount)
}

func TestQueryPersistentIndexError(t *testing.T) {
	persistent := &models.IndexError{Op: "search", Err: errors.New("relation does not exist")}
	fake := &fakeRetriever{errs: []error{persistent, persistent}}
	p := pipeline.New(pipeline.Config{}, &fakeChunker{}, &fakeEmbedder{}, store.NewMemoryStore(3),
		fake, &fakeReranker{}, &fakeGenerator{})

	_, err := p.Query(context.Background(), "anything")
	require.Error(t, err)
	assert.Equal(t, 1, fake.calls, "non-transient failures are not retried")
}
