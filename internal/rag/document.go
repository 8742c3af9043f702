// Package rag implements the retrieval side of the assistant: embedding a
// query, nearest-neighbour search over the policy corpus, cross-encoder
// reranking, and source normalization. The agent layer consumes it through
// the Retriever interface and never depends on a specific backend.
package rag

import "strings"

// Document is one retrieved passage from the policy corpus.
type Document struct {
	// ID is the unique identifier of this corpus chunk.
	ID string `json:"id"`

	// Title is the display title of the source document
	// (e.g. "Federal Student Aid Handbook, Vol. 1").
	Title string `json:"title"`

	// Content is the raw passage text.
	Content string `json:"content"`

	// Source is the origin URI. After retrieval this is always the public
	// HTTPS form - internal bucket URIs are rewritten before a Document
	// leaves the pipeline.
	Source string `json:"source"`

	// Page is the page locator inside the source document ("142", "12-14").
	Page string `json:"page,omitempty"`

	// Metadata holds any remaining payload fields from the index.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Score is the reranker relevance score in [0,1]. For candidates that
	// have not been reranked yet it holds the raw similarity score.
	Score float32 `json:"score"`
}

// DefaultInternalPrefix is the bucket-style scheme used by the ingestion side
// for corpus sources.
const DefaultInternalPrefix = "s3://"

// DefaultPublicPrefix replaces DefaultInternalPrefix for display.
const DefaultPublicPrefix = "https://"

// SourceNormalizer rewrites internal bucket URIs to their public HTTPS form.
// The remainder of the URI after the prefix is preserved verbatim.
type SourceNormalizer struct {
	// InternalPrefix is the scheme prefix to rewrite (default "s3://").
	InternalPrefix string
	// PublicPrefix is the replacement prefix (default "https://").
	PublicPrefix string
}

// Normalize returns source with the internal prefix replaced by the public
// one. Sources that do not carry the internal prefix pass through unchanged.
func (n SourceNormalizer) Normalize(source string) string {
	internal := n.InternalPrefix
	if internal == "" {
		internal = DefaultInternalPrefix
	}
	public := n.PublicPrefix
	if public == "" {
		public = DefaultPublicPrefix
	}
	if !strings.HasPrefix(source, internal) {
		return source
	}
	return public + source[len(internal):]
}
