package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/xhad/minirag/internal/models"
)

// MemoryStore is a brute-force cosine-similarity index. It satisfies the
// same contract as the pgvector backend, which makes it the reference
// implementation for tests and a zero-dependency deployment option.
// All mutations happen under one lock, so a concurrent Search never sees a
// half-upserted or half-deleted document.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	entries   []memoryEntry
	byID      map[string]int
}

type memoryEntry struct {
	chunk  models.Chunk
	vector []float32
}

// NewMemoryStore creates an in-memory index. dimension of 0 adopts the
// dimension of the first upserted vector.
func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{
		dimension: dimension,
		byID:      make(map[string]int),
	}
}

// Upsert stores the batch atomically. Re-upserting a chunk ID replaces the
// entry in place, keeping its original insertion position for tie-breaking.
func (s *MemoryStore) Upsert(_ context.Context, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return &models.IndexError{
			Op:  "upsert",
			Err: fmt.Errorf("got %d chunks but %d vectors", len(chunks), len(vectors)),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, vector := range vectors {
		if s.dimension == 0 {
			s.dimension = len(vector)
		}
		if len(vector) != s.dimension {
			return &models.IndexError{
				Op:  "upsert",
				Err: fmt.Errorf("vector dimension %d does not match index dimension %d", len(vector), s.dimension),
			}
		}
	}

	for i, chunk := range chunks {
		if pos, ok := s.byID[chunk.ID]; ok {
			s.entries[pos] = memoryEntry{chunk: chunk, vector: vectors[i]}
			continue
		}
		s.byID[chunk.ID] = len(s.entries)
		s.entries = append(s.entries, memoryEntry{chunk: chunk, vector: vectors[i]})
	}
	return nil
}

// Search returns min(topK, stored) candidates by descending cosine
// similarity. The stable sort over insertion-ordered entries breaks ties
// in favor of the earlier insertion.
func (s *MemoryStore) Search(_ context.Context, vector []float32, topK int) ([]models.Candidate, error) {
	if topK < 1 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := make([]models.Candidate, 0, len(s.entries))
	for _, entry := range s.entries {
		candidates = append(candidates, models.Candidate{
			Chunk: entry.chunk,
			Score: cosine(vector, entry.vector),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if topK > len(candidates) {
		topK = len(candidates)
	}
	return candidates[:topK], nil
}

// DeleteByDocument removes every chunk of the document under the write
// lock, so no reader observes a partial deletion.
func (s *MemoryStore) DeleteByDocument(_ context.Context, documentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	found := false
	for _, entry := range s.entries {
		if entry.chunk.DocumentID == documentID {
			found = true
			continue
		}
		kept = append(kept, entry)
	}
	s.entries = kept

	s.byID = make(map[string]int, len(s.entries))
	for i, entry := range s.entries {
		s.byID[entry.chunk.ID] = i
	}
	return found, nil
}

// ListDocuments aggregates stored chunks per document in insertion order.
func (s *MemoryStore) ListDocuments(_ context.Context) ([]models.DocumentInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []models.DocumentInfo
	index := make(map[string]int)

	for _, entry := range s.entries {
		docID := entry.chunk.DocumentID
		if pos, ok := index[docID]; ok {
			docs[pos].ChunkCount++
			continue
		}
		title := ""
		if t, ok := entry.chunk.Metadata["title"].(string); ok {
			title = t
		}
		index[docID] = len(docs)
		docs = append(docs, models.DocumentInfo{
			DocumentID: docID,
			Title:      title,
			ChunkCount: 1,
		})
	}
	return docs, nil
}

func (s *MemoryStore) Close() {}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
