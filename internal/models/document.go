package models

// Document is the logical unit of ingestion. Documents are never mutated
// in place; re-ingesting the same text creates a new document with a new ID.
type Document struct {
	ID       string
	Title    string
	Text     string
	Metadata map[string]interface{}
}

// Chunk is a contiguous span of a document's text, bounded by a maximum
// token count and overlapping the previous chunk by a fixed token count.
// CharStart/CharEnd delimit the non-overlapping base span in the source
// text, so concatenating base spans reconstructs the document exactly.
type Chunk struct {
	ID         string
	DocumentID string
	Text       string
	Index      int
	TokenCount int
	CharStart  int
	CharEnd    int
	Metadata   map[string]interface{}
}

// Candidate is a retrieved chunk paired with its cosine similarity score.
type Candidate struct {
	Chunk Chunk
	Score float64
}

// RerankedCandidate is a candidate re-scored by the relevance model.
// Relevance is not required to correlate with the original similarity score.
// RetrievalRank is the candidate's position in the original retrieval order.
type RerankedCandidate struct {
	Chunk         Chunk
	Relevance     float64
	RetrievalRank int
}

// Source is one cited chunk in an answer. Index matches the inline [i]
// markers in the answer text.
type Source struct {
	Index   int     `json:"index"`
	ChunkID string  `json:"chunk_id"`
	DocID   string  `json:"doc_id"`
	Title   string  `json:"title,omitempty"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

// Answer is the generator's output. Every [i] marker in Text has a
// corresponding entry with Index == i in Sources.
type Answer struct {
	Text       string
	Sources    []Source
	HasAnswer  bool
	TokensUsed int
}

// DocumentInfo is the aggregated view of one stored document.
type DocumentInfo struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title,omitempty"`
	ChunkCount int    `json:"chunk_count"`
}

// IngestResult reports what was stored for one ingestion call.
type IngestResult struct {
	DocumentID string `json:"document_id"`
	ChunkCount int    `json:"chunk_count"`
}

// QueryResult is the full pipeline output for one question.
type QueryResult struct {
	Answer         string   `json:"answer"`
	Sources        []Source `json:"sources"`
	HasAnswer      bool     `json:"has_answer"`
	TokensUsed     int      `json:"tokens_used"`
	RetrievalCount int      `json:"retrieval_count"`
	RerankCount    int      `json:"rerank_count"`
}
