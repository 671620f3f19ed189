// Package retriever composes the embedder and the vector index into the
// recall stage of the query pipeline.
package retriever

import (
	"context"

	"github.com/xhad/minirag/internal/models"
	"github.com/xhad/minirag/internal/types"
)

type Retriever struct {
	embedder types.Embedder
	index    types.VectorIndex
}

func New(embedder types.Embedder, index types.VectorIndex) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// Retrieve embeds the question and returns the topK most similar chunks.
// topK widens recall: the reranker downstream pays per candidate, the index
// does not. An empty index yields an empty candidate set, which the
// pipeline treats as "no answer" rather than an error.
func (r *Retriever) Retrieve(ctx context.Context, question string, topK int) ([]models.Candidate, error) {
	vector, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}
	return r.index.Search(ctx, vector, topK)
}
