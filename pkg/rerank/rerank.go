// Package rerank reorders retrieval candidates with a pairwise relevance
// scorer. Vector similarity finds topically related text; the reranker
// separates text that answers the question from text that merely discusses
// the topic.
package rerank

import (
	"context"
	"log"
	"sort"

	"github.com/xhad/minirag/internal/models"
	"github.com/xhad/minirag/internal/types"
)

type Reranker struct {
	scorer types.Scorer
}

func New(scorer types.Scorer) *Reranker {
	return &Reranker{scorer: scorer}
}

// Rerank scores every (question, candidate) pair, sorts by descending
// relevance with ties broken by original retrieval rank, and truncates to
// topN. An empty candidate set returns immediately without touching the
// scorer. If any scoring call fails, the first topN candidates are returned
// in their retrieval order instead; the failure is never propagated.
func (r *Reranker) Rerank(ctx context.Context, question string, candidates []models.Candidate, topN int) []models.RerankedCandidate {
	if len(candidates) == 0 {
		return nil
	}
	if topN > len(candidates) {
		topN = len(candidates)
	}

	// Fewer candidates than requested: nothing to narrow down, skip the
	// per-pair model calls entirely.
	if len(candidates) <= topN {
		return passthrough(candidates, topN)
	}

	scored := make([]models.RerankedCandidate, len(candidates))
	for i, cand := range candidates {
		relevance, err := r.scorer.Score(ctx, question, cand.Chunk.Text)
		if err != nil {
			log.Printf("rerank degraded, falling back to retrieval order: %v", err)
			return passthrough(candidates, topN)
		}
		scored[i] = models.RerankedCandidate{
			Chunk:         cand.Chunk,
			Relevance:     relevance,
			RetrievalRank: i,
		}
	}

	// Stable sort on a retrieval-ordered slice keeps the earlier candidate
	// first on equal relevance.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Relevance > scored[j].Relevance
	})

	return scored[:topN]
}

func passthrough(candidates []models.Candidate, topN int) []models.RerankedCandidate {
	out := make([]models.RerankedCandidate, 0, topN)
	for i, cand := range candidates[:topN] {
		out = append(out, models.RerankedCandidate{
			Chunk:         cand.Chunk,
			Relevance:     cand.Score,
			RetrievalRank: i,
		})
	}
	return out
}
