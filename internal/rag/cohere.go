package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Default Cohere rerank settings. rerank-english-v2.0 matches the model the
// corpus was tuned against; override with RERANK_MODEL for newer models.
const (
	defaultCohereBaseURL = "https://api.cohere.com"
	defaultCohereModel   = "rerank-english-v2.0"
)

// CohereReranker implements Reranker using the Cohere rerank REST API via
// plain HTTP - no SDK dependency is required for a single unary endpoint.
// It is safe for concurrent use.
type CohereReranker struct {
	// baseURL is the API base (default "https://api.cohere.com").
	baseURL string
	// apiKey is the Bearer token.
	apiKey string
	// model is the rerank model name.
	model string
	// client is the shared HTTP client with a sensible timeout.
	client *http.Client
}

// CohereConfig holds the settings for constructing a CohereReranker.
type CohereConfig struct {
	// BaseURL overrides the Cohere API base URL (optional).
	BaseURL string
	// APIKey is the Cohere API key.
	APIKey string
	// Model is the rerank model name (default "rerank-english-v2.0").
	Model string
}

// NewCohereReranker constructs a CohereReranker from the given config.
func NewCohereReranker(cfg *CohereConfig) (*CohereReranker, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("cohere reranker: API key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultCohereBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultCohereModel
	}
	return &CohereReranker{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// cohereRerankRequest is the JSON body sent to the rerank endpoint.
type cohereRerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

// cohereRerankResponse is the JSON body returned from the rerank endpoint.
type cohereRerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float32 `json:"relevance_score"`
	} `json:"results"`
	Message string `json:"message,omitempty"`
}

// Rerank scores each candidate against the query with the cross-encoder and
// returns the top-n, sorted descending by relevance. Candidate order in the
// input is the index space the API response refers back into.
func (r *CohereReranker) Rerank(ctx context.Context, query string, candidates []Document, topN int) ([]Document, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Content
	}

	payload, err := json.Marshal(cohereRerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: texts,
		TopN:      topN,
	})
	if err != nil {
		return nil, fmt.Errorf("cohere reranker: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v2/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("cohere reranker: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cohere reranker: request failed: %w", err)
	}
	defer resp.Body.Close()

	var result cohereRerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("cohere reranker: decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Message != "" {
			msg = result.Message
		}
		return nil, fmt.Errorf("cohere reranker: %s", msg)
	}

	// The API returns results already sorted by descending relevance; each
	// entry points back into the candidate slice by index.
	reranked := make([]Document, 0, len(result.Results))
	for _, res := range result.Results {
		if res.Index < 0 || res.Index >= len(candidates) {
			return nil, fmt.Errorf("cohere reranker: index %d out of range [0, %d)", res.Index, len(candidates))
		}
		doc := candidates[res.Index]
		doc.Score = res.RelevanceScore
		reranked = append(reranked, doc)
	}

	return reranked, nil
}
