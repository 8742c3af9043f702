package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// HTTPPinger probes an HTTP dependency (Ollama, the rerank endpoint, a
// Bedrock gateway) by issuing a GET against its base URL. Any response at
// all counts as reachable; auth failures still prove the host is up.
type HTTPPinger struct {
	name string
	url  string
}

// NewHTTPPinger constructs an HTTPPinger for the given label and base URL.
func NewHTTPPinger(name, url string) *HTTPPinger {
	return &HTTPPinger{name: name, url: url}
}

// Name returns the dependency label used in readiness responses.
func (p *HTTPPinger) Name() string { return p.name }

// Ping issues a GET against the base URL and reports transport-level failure.
func (p *HTTPPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("unreachable: %w", err)
	}
	_ = resp.Body.Close()
	return nil
}

// HistoryPinger probes the SQLite history store with a no-op read.
type HistoryPinger struct {
	// ping issues a cheap query; wired to the store's Messages call.
	ping func(ctx context.Context) error
}

// NewHistoryPinger constructs a HistoryPinger over the given probe function.
func NewHistoryPinger(ping func(ctx context.Context) error) *HistoryPinger {
	return &HistoryPinger{ping: ping}
}

// Name returns the dependency label used in readiness responses.
func (p *HistoryPinger) Name() string { return "history" }

// Ping runs the probe function.
func (p *HistoryPinger) Ping(ctx context.Context) error {
	if err := p.ping(ctx); err != nil {
		return fmt.Errorf("history store unavailable: %w", err)
	}
	return nil
}
