package rag

import (
	"context"
	"fmt"
)

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore performs similarity search over the pre-populated corpus index.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Search returns the top-k nearest candidates for the query embedding,
	// ordered by descending similarity. An empty result is a valid outcome,
	// not an error.
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Document, error)

	// Close releases any resources held by the store.
	Close() error
}

// Reranker reorders candidate documents by cross-encoder relevance to the
// query and truncates to the top-n. Returned documents carry a relevance
// score in [0,1] and are sorted descending by it.
// Implementations must be safe to call from multiple goroutines.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Document, topN int) ([]Document, error)
}

// Retriever is the high-level contract the agent layer consumes:
// query text in, ranked scored documents out.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]Document, error)
}

// RetrievalError marks a failure inside the retrieval pipeline, tagged with
// the stage that failed. The pipeline performs no retries - the error
// propagates to the conversation layer, which surfaces it to the user.
type RetrievalError struct {
	// Stage is "embed", "search", or "rerank".
	Stage string
	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *RetrievalError) Error() string {
	return fmt.Sprintf("rag: %s failed: %v", e.Stage, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *RetrievalError) Unwrap() error { return e.Err }
