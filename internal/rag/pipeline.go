package rag

import (
	"context"
	"fmt"
	"sort"
)

// Default fan-out for the retrieval pipeline: a wide nearest-neighbour pass
// over the index, narrowed by the cross-encoder.
const (
	// DefaultTopK is the number of candidates fetched from the vector index.
	DefaultTopK = 100
	// DefaultTopN is the number of documents the reranker keeps.
	DefaultTopN = 20
)

// Pipeline composes the Embedder, VectorStore, and Reranker into the single
// retrieval operation the agent tool consumes: query text in, ranked scored
// documents out. The pipeline performs no retries; failures propagate as
// *RetrievalError and retry policy, if any, belongs to the individual
// clients.
type Pipeline struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// store performs the nearest-neighbour candidate search.
	store VectorStore

	// reranker narrows and rescores the candidate set.
	reranker Reranker

	// topK is the candidate fan-out from the index.
	topK int

	// topN is the reranked result count.
	topN int

	// normalizer rewrites internal bucket sources to public HTTPS.
	normalizer SourceNormalizer
}

// PipelineConfig holds the dependencies and tuning for a Pipeline.
type PipelineConfig struct {
	// Embedder converts query text to a vector. Required.
	Embedder Embedder
	// Store is the corpus index. Required.
	Store VectorStore
	// Reranker rescores candidates. Required.
	Reranker Reranker
	// TopK is the index fan-out. Defaults to DefaultTopK.
	TopK int
	// TopN is the reranked result count. Defaults to DefaultTopN.
	TopN int
	// Normalizer rewrites source URIs. Zero value uses the s3:// to https://
	// defaults.
	Normalizer SourceNormalizer
}

// NewPipeline constructs a Pipeline from the given config.
func NewPipeline(cfg *PipelineConfig) (*Pipeline, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if cfg.Reranker == nil {
		return nil, fmt.Errorf("rag: reranker must not be nil")
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	topN := cfg.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}
	return &Pipeline{
		embedder:   cfg.Embedder,
		store:      cfg.Store,
		reranker:   cfg.Reranker,
		topK:       topK,
		topN:       topN,
		normalizer: cfg.Normalizer,
	}, nil
}

// Retrieve embeds the query, searches the index for the top-K candidates,
// reranks them down to the top-N, and returns the result sorted descending
// by relevance with sources normalized for display.
//
// An empty candidate set from the index is a valid "no grounding found"
// outcome and returns an empty slice, not an error.
func (p *Pipeline) Retrieve(ctx context.Context, query string) ([]Document, error) {
	embeddings, err := p.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, &RetrievalError{Stage: "embed", Err: err}
	}
	if len(embeddings) == 0 {
		return nil, &RetrievalError{Stage: "embed", Err: fmt.Errorf("embedder returned no vector for query")}
	}

	candidates, err := p.store.Search(ctx, embeddings[0], p.topK)
	if err != nil {
		return nil, &RetrievalError{Stage: "search", Err: err}
	}
	if len(candidates) == 0 {
		return []Document{}, nil
	}

	docs, err := p.reranker.Rerank(ctx, query, candidates, p.topN)
	if err != nil {
		return nil, &RetrievalError{Stage: "rerank", Err: err}
	}

	for i := range docs {
		docs[i].Source = p.normalizer.Normalize(docs[i].Source)
	}

	// The reranker contract already sorts descending; enforce it anyway so a
	// misbehaving backend cannot leak unsorted results downstream.
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })

	return docs, nil
}
