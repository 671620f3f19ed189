package models

import "fmt"

// ValidationError reports malformed configuration or input. It is fatal to
// the operation that triggered it.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// EmbeddingError wraps a failure of the embedding backend. Fatal for
// ingestion; at query time the pipeline converts it to a terminal answer.
type EmbeddingError struct {
	Op  string
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding %s: %v", e.Op, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// IndexError wraps a vector store failure. Transient marks errors that the
// pipeline may retry once before surfacing.
type IndexError struct {
	Op        string
	Err       error
	Transient bool
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("vector index %s: %v", e.Op, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }
