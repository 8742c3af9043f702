package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/cloudwego/eino/components/tool"

	"github.com/edupolicy/policychat-go/internal/agent"
	"github.com/edupolicy/policychat-go/internal/embedder"
	"github.com/edupolicy/policychat-go/internal/provider"
	"github.com/edupolicy/policychat-go/internal/rag"
	"github.com/edupolicy/policychat-go/internal/secrets"
	"github.com/edupolicy/policychat-go/internal/server"
	"github.com/edupolicy/policychat-go/internal/store"
	"github.com/edupolicy/policychat-go/internal/tools"
)

// secretBundle is the bundle name secrets are resolved from when a secrets
// file is configured via POLICYCHAT_SECRETS_FILE.
const secretBundle = "policychat"

// bootstrapSecrets resolves startup secrets into the environment before any
// client is constructed. COHERE_API_KEY is startup-fatal: without it the
// rerank stage, and therefore every answer, is broken.
func bootstrapSecrets(ctx context.Context) error {
	p, err := secrets.NewFromEnv()
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	return secrets.Bootstrap(ctx, p, []secrets.Binding{
		{SecretName: secretBundle, Key: "COHERE_API_KEY", Required: true},
		{SecretName: secretBundle, Key: "QDRANT_API_KEY"},
		{SecretName: secretBundle, Key: "OPENAI_API_KEY"},
		{SecretName: secretBundle, Key: "AZURE_OPENAI_API_KEY"},
		{SecretName: secretBundle, Key: "BEDROCK_API_KEY"},
		{SecretName: secretBundle, Key: "GOOGLE_API_KEY"},
		{SecretName: secretBundle, Key: "EMBEDDING_API_KEY"},
		{SecretName: secretBundle, Key: "POLICYCHAT_API_KEY"},
		{SecretName: secretBundle, Key: "LANGFUSE_PUBLIC_KEY"},
		{SecretName: secretBundle, Key: "LANGFUSE_SECRET_KEY"},
	})
}

// buildRetrieval constructs the embed, search, rerank pipeline from
// environment configuration. The returned store must be closed by the caller.
func buildRetrieval(ctx context.Context) (*rag.Pipeline, *rag.QdrantStore, error) {
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, nil, err
	}

	qs, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:       os.Getenv("QDRANT_HOST"),
		Port:       envInt("QDRANT_PORT", 0),
		Collection: os.Getenv("QDRANT_COLLECTION"),
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     envBool("QDRANT_TLS", false),
	})
	if err != nil {
		return nil, nil, err
	}

	reranker, err := rag.NewCohereReranker(&rag.CohereConfig{
		BaseURL: os.Getenv("RERANK_ENDPOINT"),
		APIKey:  os.Getenv("COHERE_API_KEY"),
		Model:   os.Getenv("RERANK_MODEL"),
	})
	if err != nil {
		_ = qs.Close()
		return nil, nil, err
	}

	pipeline, err := rag.NewPipeline(&rag.PipelineConfig{
		Embedder: emb,
		Store:    qs,
		Reranker: reranker,
		TopK:     envInt("RETRIEVAL_TOP_K", 0),
		TopN:     envInt("RETRIEVAL_TOP_N", 0),
		Normalizer: rag.SourceNormalizer{
			InternalPrefix: os.Getenv("SOURCE_PREFIX"),
			PublicPrefix:   os.Getenv("SOURCE_PUBLIC_PREFIX"),
		},
	})
	if err != nil {
		_ = qs.Close()
		return nil, nil, err
	}
	return pipeline, qs, nil
}

// buildAgent constructs the tool-calling agent over the given retriever.
func buildAgent(ctx context.Context, retriever rag.Retriever) (*agent.Agent, error) {
	chatModel, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}

	return agent.New(ctx, &agent.Config{
		ChatModel:        chatModel,
		Tools:            []tool.InvokableTool{tools.NewKnowledgeBaseTool(retriever)},
		MaxToolRounds:    envInt("AGENT_MAX_TOOL_ROUNDS", 0),
		MaxContextTokens: envInt("AGENT_MAX_CONTEXT_TOKENS", 0),
	})
}

// openHistory opens the conversation history store. POLICYCHAT_HISTORY_DB
// overrides the default path (~/.policychat/history.db); "disabled" turns
// persistence off. A broken store degrades to stateless sessions rather
// than refusing to start.
func openHistory(log *slog.Logger) (store.HistoryStore, func()) {
	dbPath := os.Getenv("POLICYCHAT_HISTORY_DB")
	if dbPath == "disabled" {
		log.Info("history: disabled via POLICYCHAT_HISTORY_DB=disabled")
		return nil, func() {}
	}
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil, func() {}
		}
	}

	hs, err := store.Open(dbPath)
	if err != nil {
		log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return nil, func() {}
	}
	log.Info("history: store opened", slog.String("path", dbPath))
	return hs, func() { _ = hs.Close() }
}

// buildPingers assembles the readiness probes for the serve command.
func buildPingers(qs *rag.QdrantStore, history store.HistoryStore) []server.Pinger {
	pingers := []server.Pinger{server.NewQdrantPinger(qs.Client())}

	if os.Getenv("MODEL_PROVIDER") == "ollama" || os.Getenv("MODEL_PROVIDER") == "" {
		host := os.Getenv("OLLAMA_HOST")
		if host == "" {
			host = "http://localhost:11434"
		}
		pingers = append(pingers, server.NewHTTPPinger("ollama", host))
	}

	if history != nil {
		pingers = append(pingers, server.NewHistoryPinger(func(ctx context.Context) error {
			_, err := history.Messages(ctx, "readiness-probe")
			return err
		}))
	}
	return pingers
}

// envInt returns the named env var parsed as an int, or fallback when the
// variable is unset or malformed.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// envBool returns the named env var parsed as a bool, or fallback.
func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
