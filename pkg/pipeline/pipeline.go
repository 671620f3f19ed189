// Package pipeline wires the chunker, embedder, vector index, retriever,
// reranker and generator into the two top-level flows: document ingestion
// and question answering.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xhad/minirag/internal/models"
	"github.com/xhad/minirag/internal/types"
)

const noContextAnswer = "I cannot answer this question as no relevant documents were found."

// Chunker splits a document into token-bounded chunks.
type Chunker interface {
	Chunk(text, docID string, metadata map[string]interface{}) ([]models.Chunk, error)
}

type Config struct {
	TopK         int
	TopN         int
	BatchSize    int
	StageTimeout time.Duration
}

type Pipeline struct {
	config    Config
	chunker   Chunker
	embedder  types.Embedder
	index     types.VectorIndex
	retriever types.Retriever
	reranker  types.Reranker
	generator types.Generator
}

func New(config Config, chunker Chunker, embedder types.Embedder, index types.VectorIndex,
	retriever types.Retriever, reranker types.Reranker, generator types.Generator) *Pipeline {
	if config.TopK == 0 {
		config.TopK = 20
	}
	if config.TopN == 0 {
		config.TopN = 5
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	return &Pipeline{
		config:    config,
		chunker:   chunker,
		embedder:  embedder,
		index:     index,
		retriever: retriever,
		reranker:  reranker,
		generator: generator,
	}
}

// Ingest chunks the text, embeds every chunk and stores the whole document
// in one upsert. Embeddings are buffered first so an embedding failure
// leaves the index untouched. Empty text is a no-op.
func (p *Pipeline) Ingest(ctx context.Context, text string, metadata map[string]interface{}) (models.IngestResult, error) {
	if strings.TrimSpace(text) == "" {
		return models.IngestResult{}, nil
	}

	docID := uuid.NewString()

	chunks, err := p.chunker.Chunk(text, docID, metadata)
	if err != nil {
		return models.IngestResult{}, fmt.Errorf("chunking failed: %w", err)
	}
	if len(chunks) == 0 {
		return models.IngestResult{}, nil
	}

	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += p.config.BatchSize {
		end := start + p.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		texts := make([]string, 0, end-start)
		for _, chunk := range chunks[start:end] {
			texts = append(texts, chunk.Text)
		}

		stageCtx, cancel := p.stageContext(ctx)
		batch, err := p.embedder.Embed(stageCtx, texts)
		cancel()
		if err != nil {
			return models.IngestResult{}, fmt.Errorf("embedding failed for document %s: %w", docID, err)
		}
		vectors = append(vectors, batch...)
	}

	stageCtx, cancel := p.stageContext(ctx)
	err = p.index.Upsert(stageCtx, chunks, vectors)
	cancel()
	if err != nil {
		// Best-effort cleanup so a failed ingest never leaves a partial
		// document behind.
		if _, cleanupErr := p.index.DeleteByDocument(context.WithoutCancel(ctx), docID); cleanupErr != nil {
			log.Printf("cleanup of document %s failed: %v", docID, cleanupErr)
		}
		return models.IngestResult{}, fmt.Errorf("storing document %s failed: %w", docID, err)
	}

	return models.IngestResult{DocumentID: docID, ChunkCount: len(chunks)}, nil
}

// Query runs retrieve, rerank and generate. Retrieval failures surface as
// errors (transient index failures are retried once); everything past
// retrieval degrades instead of failing, so a reachable index always
// produces an answer object.
func (p *Pipeline) Query(ctx context.Context, question string) (models.QueryResult, error) {
	if strings.TrimSpace(question) == "" {
		return models.QueryResult{}, &models.ValidationError{Field: "question", Message: "must not be empty"}
	}

	candidates, err := p.retrieve(ctx, question)
	if err != nil {
		var embErr *models.EmbeddingError
		if errors.As(err, &embErr) {
			// The question cannot be embedded, so retrieval is impossible.
			// Report it as a declined answer rather than a transport error.
			return models.QueryResult{
				Answer:    fmt.Sprintf("%s Embedding is unavailable: %v.", noContextAnswer, embErr.Err),
				Sources:   []models.Source{},
				HasAnswer: false,
			}, nil
		}
		return models.QueryResult{}, err
	}

	if len(candidates) == 0 {
		return models.QueryResult{
			Answer:    noContextAnswer,
			Sources:   []models.Source{},
			HasAnswer: false,
		}, nil
	}

	stageCtx, cancel := p.stageContext(ctx)
	reranked := p.reranker.Rerank(stageCtx, question, candidates, p.config.TopN)
	cancel()

	stageCtx, cancel = p.stageContext(ctx)
	answer := p.generator.Generate(stageCtx, question, reranked)
	cancel()

	sources := answer.Sources
	if sources == nil {
		sources = []models.Source{}
	}

	return models.QueryResult{
		Answer:         answer.Text,
		Sources:        sources,
		HasAnswer:      answer.HasAnswer,
		TokensUsed:     answer.TokensUsed,
		RetrievalCount: len(candidates),
		RerankCount:    len(reranked),
	}, nil
}

func (p *Pipeline) retrieve(ctx context.Context, question string) ([]models.Candidate, error) {
	stageCtx, cancel := p.stageContext(ctx)
	candidates, err := p.retriever.Retrieve(stageCtx, question, p.config.TopK)
	cancel()
	if err == nil {
		return candidates, nil
	}

	var indexErr *models.IndexError
	if errors.As(err, &indexErr) && indexErr.Transient {
		// Embedding the same question again is deterministic, so the whole
		// stage is safe to retry once.
		log.Printf("transient retrieval failure, retrying: %v", err)
		stageCtx, cancel = p.stageContext(ctx)
		candidates, err = p.retriever.Retrieve(stageCtx, question, p.config.TopK)
		cancel()
	}
	return candidates, err
}

func (p *Pipeline) ListDocuments(ctx context.Context) ([]models.DocumentInfo, error) {
	return p.index.ListDocuments(ctx)
}

func (p *Pipeline) DeleteDocument(ctx context.Context, documentID string) (bool, error) {
	return p.index.DeleteByDocument(ctx, documentID)
}

func (p *Pipeline) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.config.StageTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.config.StageTimeout)
}
