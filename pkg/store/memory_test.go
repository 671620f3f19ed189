package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/minirag/internal/models"
	"github.com/xhad/minirag/pkg/store"
)

func chunk(docID string, index int, text string) models.Chunk {
	return models.Chunk{
		ID:         fmt.Sprintf("%s_chunk_%04d", docID, index),
		DocumentID: docID,
		Text:       text,
		Index:      index,
		Metadata:   map[string]interface{}{"title": "Test Doc " + docID},
	}
}

func TestMemoryStoreUpsertAndSearch(t *testing.T) {
	s := store.NewMemoryStore(3)
	ctx := context.Background()

	err := s.Upsert(ctx,
		[]models.Chunk{chunk("doc1", 0, "the sky is blue"), chunk("doc1", 1, "water is wet")},
		[][]float32{{1, 0, 0}, {0, 1, 0}},
	)
	require.NoError(t, err)

	results, err := s.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "doc1_chunk_0000", results[0].Chunk.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, "doc1_chunk_0001", results[1].Chunk.ID)
	assert.InDelta(t, 0.0, results[1].Score, 1e-6)
}

func TestMemoryStoreSearchCapsAtStoredCount(t *testing.T) {
	s := store.NewMemoryStore(2)
	ctx := context.Background()

	err := s.Upsert(ctx, []models.Chunk{chunk("doc1", 0, "only entry")}, [][]float32{{1, 0}})
	require.NoError(t, err)

	results, err := s.Search(ctx, []float32{1, 0}, 20)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestMemoryStoreEmptySearch(t *testing.T) {
	s := store.NewMemoryStore(3)

	results, err := s.Search(context.Background(), []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemoryStoreIdempotentUpsert(t *testing.T) {
	s := store.NewMemoryStore(2)
	ctx := context.Background()

	first := chunk("doc1", 0, "original text")
	err := s.Upsert(ctx, []models.Chunk{first, chunk("doc2", 0, "other doc")}, [][]float32{{1, 0}, {0, 1}})
	require.NoError(t, err)

	replaced := chunk("doc1", 0, "revised text")
	err = s.Upsert(ctx, []models.Chunk{replaced}, [][]float32{{1, 0}})
	require.NoError(t, err)

	// Same IDs, same count, updated content. The replaced entry keeps its
	// original position, so equal scores still order doc1 first.
	results, err := s.Search(ctx, []float32{1, 1}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "doc1_chunk_0000", results[0].Chunk.ID)
	assert.Equal(t, "revised text", results[0].Chunk.Text)
}

func TestMemoryStoreStableTieBreak(t *testing.T) {
	s := store.NewMemoryStore(2)
	ctx := context.Background()

	err := s.Upsert(ctx,
		[]models.Chunk{chunk("doc1", 0, "a"), chunk("doc2", 0, "b"), chunk("doc3", 0, "c")},
		[][]float32{{1, 0}, {1, 0}, {1, 0}},
	)
	require.NoError(t, err)

	results, err := s.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "doc1_chunk_0000", results[0].Chunk.ID)
	assert.Equal(t, "doc2_chunk_0000", results[1].Chunk.ID)
	assert.Equal(t, "doc3_chunk_0000", results[2].Chunk.ID)
}

func TestMemoryStoreDimensionMismatch(t *testing.T) {
	s := store.NewMemoryStore(3)

	err := s.Upsert(context.Background(), []models.Chunk{chunk("doc1", 0, "short vector")}, [][]float32{{1, 0}})
	require.Error(t, err)

	var indexErr *models.IndexError
	require.ErrorAs(t, err, &indexErr)
	assert.False(t, indexErr.Transient)
}

func TestMemoryStoreDeleteByDocument(t *testing.T) {
	s := store.NewMemoryStore(2)
	ctx := context.Background()

	err := s.Upsert(ctx,
		[]models.Chunk{chunk("doc1", 0, "a"), chunk("doc1", 1, "b"), chunk("doc2", 0, "c")},
		[][]float32{{1, 0}, {1, 0}, {0, 1}},
	)
	require.NoError(t, err)

	found, err := s.DeleteByDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.True(t, found)

	results, err := s.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc2", results[0].Chunk.DocumentID)

	found, err = s.DeleteByDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.False(t, found, "second delete finds nothing")
}

func TestMemoryStoreListDocuments(t *testing.T) {
	s := store.NewMemoryStore(2)
	ctx := context.Background()

	err := s.Upsert(ctx,
		[]models.Chunk{chunk("doc1", 0, "a"), chunk("doc2", 0, "b"), chunk("doc1", 1, "c")},
		[][]float32{{1, 0}, {0, 1}, {1, 1}},
	)
	require.NoError(t, err)

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "doc1", docs[0].DocumentID)
	assert.Equal(t, "Test Doc doc1", docs[0].Title)
	assert.Equal(t, 2, docs[0].ChunkCount)
	assert.Equal(t, "doc2", docs[1].DocumentID)
	assert.Equal(t, 1, docs[1].ChunkCount)
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	s := store.NewMemoryStore(2)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			docID := fmt.Sprintf("doc%d", n)
			err := s.Upsert(ctx,
				[]models.Chunk{chunk(docID, 0, "text"), chunk(docID, 1, "more text")},
				[][]float32{{1, 0}, {0, 1}},
			)
			assert.NoError(t, err)

			results, err := s.Search(ctx, []float32{1, 0}, 5)
			assert.NoError(t, err)
			assert.True(t, len(results) <= 5)
		}(i)
	}
	wg.Wait()

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 8)
}
