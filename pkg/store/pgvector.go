package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xhad/minirag/internal/models"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
}

// VectorStore persists chunks and their embeddings in Postgres with the
// pgvector extension. Cosine distance drives similarity search; a seq
// column records insertion order so equal-distance rows come back in a
// deterministic order.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
}

func NewWithConfig(config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}

	pool, err := pgxpool.New(context.Background(), config.ConnString)
	if err != nil {
		return nil, &models.IndexError{Op: "connect", Err: err, Transient: isTransient(err)}
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
	}

	if err := vs.initialize(); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize() error {
	ctx := context.Background()

	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return &models.IndexError{Op: "initialize", Err: fmt.Errorf("failed to create vector extension: %w", err), Transient: isTransient(err)}
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			chunk_id TEXT PRIMARY KEY,
			doc_id TEXT NOT NULL,
			title TEXT,
			content TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			token_count INTEGER,
			char_start INTEGER,
			char_end INTEGER,
			embedding vector(%d),
			metadata JSONB,
			seq BIGSERIAL
		)`, vs.config.TableName, vs.config.VectorDim)

	_, err = vs.pool.Exec(ctx, createTable)
	if err != nil {
		return &models.IndexError{Op: "initialize", Err: fmt.Errorf("failed to create table: %w", err), Transient: isTransient(err)}
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		vs.config.TableName, vs.config.TableName)

	_, err = vs.pool.Exec(ctx, createIndex)
	if err != nil {
		return &models.IndexError{Op: "initialize", Err: fmt.Errorf("failed to create vector index: %w", err), Transient: isTransient(err)}
	}

	createDocIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_doc_id_idx ON %s (doc_id)`,
		vs.config.TableName, vs.config.TableName)

	_, err = vs.pool.Exec(ctx, createDocIndex)
	if err != nil {
		return &models.IndexError{Op: "initialize", Err: fmt.Errorf("failed to create doc index: %w", err), Transient: isTransient(err)}
	}

	return nil
}

// Upsert writes the whole batch in one transaction. A conflict on chunk_id
// updates the row in place, which keeps its original seq and therefore its
// tie-break position.
func (vs *VectorStore) Upsert(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return &models.IndexError{
			Op:  "upsert",
			Err: fmt.Errorf("got %d chunks but %d vectors", len(chunks), len(vectors)),
		}
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return &models.IndexError{Op: "upsert", Err: fmt.Errorf("failed to begin transaction: %w", err), Transient: isTransient(err)}
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (chunk_id, doc_id, title, content, chunk_index, token_count, char_start, char_end, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (chunk_id) DO UPDATE SET
			doc_id = EXCLUDED.doc_id,
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			chunk_index = EXCLUDED.chunk_index,
			token_count = EXCLUDED.token_count,
			char_start = EXCLUDED.char_start,
			char_end = EXCLUDED.char_end,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		vs.config.TableName)

	for i, chunk := range chunks {
		title := ""
		if t, ok := chunk.Metadata["title"].(string); ok {
			title = sanitizeUTF8(t)
		}

		_, err = tx.Exec(ctx, stmt,
			chunk.ID,
			chunk.DocumentID,
			title,
			sanitizeUTF8(chunk.Text),
			chunk.Index,
			chunk.TokenCount,
			chunk.CharStart,
			chunk.CharEnd,
			pgvector.NewVector(vectors[i]),
			chunk.Metadata,
		)
		if err != nil {
			return &models.IndexError{Op: "upsert", Err: fmt.Errorf("failed to insert chunk %s: %w", chunk.ID, err), Transient: isTransient(err)}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &models.IndexError{Op: "upsert", Err: fmt.Errorf("failed to commit transaction: %w", err), Transient: isTransient(err)}
	}

	return nil
}

// Search returns the topK nearest chunks by cosine similarity, scored as
// 1 - distance so higher is better.
func (vs *VectorStore) Search(ctx context.Context, vector []float32, topK int) ([]models.Candidate, error) {
	if topK < 1 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT chunk_id, doc_id, content, chunk_index, token_count, char_start, char_end, metadata,
		       1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1, seq
		LIMIT $2`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, &models.IndexError{Op: "search", Err: fmt.Errorf("failed to query chunks: %w", err), Transient: isTransient(err)}
	}
	defer rows.Close()

	var candidates []models.Candidate
	for rows.Next() {
		var cand models.Candidate
		err := rows.Scan(
			&cand.Chunk.ID,
			&cand.Chunk.DocumentID,
			&cand.Chunk.Text,
			&cand.Chunk.Index,
			&cand.Chunk.TokenCount,
			&cand.Chunk.CharStart,
			&cand.Chunk.CharEnd,
			&cand.Chunk.Metadata,
			&cand.Score,
		)
		if err != nil {
			return nil, &models.IndexError{Op: "search", Err: fmt.Errorf("failed to scan row: %w", err)}
		}
		candidates = append(candidates, cand)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.IndexError{Op: "search", Err: err, Transient: isTransient(err)}
	}

	return candidates, nil
}

// DeleteByDocument removes every chunk of the document in one statement.
// Returns false when the document was not stored.
func (vs *VectorStore) DeleteByDocument(ctx context.Context, documentID string) (bool, error) {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE doc_id = $1`, vs.config.TableName)

	tag, err := vs.pool.Exec(ctx, stmt, documentID)
	if err != nil {
		return false, &models.IndexError{Op: "delete", Err: fmt.Errorf("failed to delete document %s: %w", documentID, err), Transient: isTransient(err)}
	}
	return tag.RowsAffected() > 0, nil
}

// ListDocuments aggregates chunk rows per document, ordered by when the
// document was first stored.
func (vs *VectorStore) ListDocuments(ctx context.Context) ([]models.DocumentInfo, error) {
	query := fmt.Sprintf(`
		SELECT doc_id, COALESCE(MAX(title), ''), COUNT(*)
		FROM %s
		GROUP BY doc_id
		ORDER BY MIN(seq)`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query)
	if err != nil {
		return nil, &models.IndexError{Op: "list", Err: fmt.Errorf("failed to list documents: %w", err), Transient: isTransient(err)}
	}
	defer rows.Close()

	var docs []models.DocumentInfo
	for rows.Next() {
		var info models.DocumentInfo
		if err := rows.Scan(&info.DocumentID, &info.Title, &info.ChunkCount); err != nil {
			return nil, &models.IndexError{Op: "list", Err: fmt.Errorf("failed to scan row: %w", err)}
		}
		docs = append(docs, info)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.IndexError{Op: "list", Err: err, Transient: isTransient(err)}
	}

	return docs, nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

// isTransient reports whether the failure is worth a retry: timeouts and
// connection-level failures qualify, constraint or syntax errors do not.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
