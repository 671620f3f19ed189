// Package types holds the capability interfaces the pipeline is wired
// through. Each external dependency (embedding backend, vector store,
// relevance scorer, generation model) sits behind one of these so tests
// and alternative backends can satisfy the same contract.
package types

import (
	"context"

	"github.com/xhad/minirag/internal/models"
)

// Embedder maps text to fixed-dimension dense vectors. Chunks and queries
// must be embedded by the same model so cosine similarity is meaningful.
type Embedder interface {
	// Embed embeds a batch of texts. It fails on an empty batch.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single query with the identical model.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex stores chunk vectors plus metadata. Implementations are
// responsible for their own concurrency control: a concurrent Search must
// never observe a half-upserted or half-deleted document.
type VectorIndex interface {
	// Upsert stores chunks with their vectors. Re-upserting a chunk ID
	// replaces its vector and metadata. The batch is stored atomically.
	Upsert(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error
	// Search returns up to topK candidates ordered by descending cosine
	// similarity, ties broken by insertion order. An empty index yields an
	// empty result, not an error.
	Search(ctx context.Context, vector []float32, topK int) ([]models.Candidate, error)
	// DeleteByDocument removes every chunk of the document. It reports
	// whether the document existed.
	DeleteByDocument(ctx context.Context, documentID string) (bool, error)
	// ListDocuments aggregates stored chunks per document.
	ListDocuments(ctx context.Context) ([]models.DocumentInfo, error)
	Close()
}

// Retriever embeds a question and searches the index for the top-K most
// similar chunks.
type Retriever interface {
	Retrieve(ctx context.Context, question string, topK int) ([]models.Candidate, error)
}

// Scorer judges how well a single text answers a question. Higher is more
// relevant.
type Scorer interface {
	Score(ctx context.Context, question, text string) (float64, error)
}

// Reranker reorders candidates by pairwise relevance and truncates to topN.
// It never fails: a scorer failure degrades to the original retrieval order.
type Reranker interface {
	Rerank(ctx context.Context, question string, candidates []models.Candidate, topN int) []models.RerankedCandidate
}

// Generator produces a cited answer grounded in the reranked candidates.
// It never fails: generation errors are converted to a terminal answer.
type Generator interface {
	Generate(ctx context.Context, question string, candidates []models.RerankedCandidate) models.Answer
}

// Pipeline is the surface the transport layer talks to.
type Pipeline interface {
	Ingest(ctx context.Context, text string, metadata map[string]interface{}) (models.IngestResult, error)
	Query(ctx context.Context, question string) (models.QueryResult, error)
	ListDocuments(ctx context.Context) ([]models.DocumentInfo, error)
	DeleteDocument(ctx context.Context, documentID string) (bool, error)
}
