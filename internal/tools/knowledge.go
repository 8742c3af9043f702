// Package tools defines the Eino tools the assistant can invoke during a
// conversation. Each tool satisfies Eino's tool.InvokableTool interface so it
// can be registered directly with the chat model.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/edupolicy/policychat-go/internal/logging"
	"github.com/edupolicy/policychat-go/internal/rag"
)

// KnowledgeBaseName is the tool name registered with the agent. The model is
// instructed to call this tool before answering any policy question.
const KnowledgeBaseName = "knowledge_base"

// KnowledgeBaseTool is an Eino tool that searches the education policy corpus
// (Federal Student Aid Handbook, FAFSA guidance, institutional aid policy)
// and returns the top reranked passages as JSON for the model to ground its
// answer on.
type KnowledgeBaseTool struct {
	retriever rag.Retriever
}

// knowledgeInput is the JSON-serialisable input schema for KnowledgeBaseTool.
type knowledgeInput struct {
	// Query is the natural-language search query.
	Query string `json:"query"`
}

// NewKnowledgeBaseTool constructs a KnowledgeBaseTool over the given retriever.
func NewKnowledgeBaseTool(retriever rag.Retriever) *KnowledgeBaseTool {
	return &KnowledgeBaseTool{retriever: retriever}
}

// Name returns the tool name registered with the agent.
func (t *KnowledgeBaseTool) Name() string { return KnowledgeBaseName }

// Description returns the LLM-facing description of this tool.
func (t *KnowledgeBaseTool) Description() string {
	return "Searches the education policy knowledge base (Federal Student Aid Handbook, " +
		"FAFSA guidance, grant and loan program rules) and returns the most relevant " +
		"passages with their source documents. Always use this tool before answering " +
		"a question about financial aid or education policy."
}

// Info returns the Eino tool metadata including the JSON input schema.
func (t *KnowledgeBaseTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: t.Name(),
		Desc: t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "Natural-language search query describing the information needed.",
				Required: true,
			},
		}),
	}, nil
}

// InvokableRun retrieves passages for the query and returns them as a JSON
// array of documents. Retrieval failures are returned as errors so the agent
// loop can record them and tell the model the search failed.
func (t *KnowledgeBaseTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var input knowledgeInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &input); err != nil {
		return "", fmt.Errorf("knowledge_base: invalid input: %w", err)
	}
	if input.Query == "" {
		return "", fmt.Errorf("knowledge_base: query is required")
	}

	docs, err := t.retriever.Retrieve(ctx, input.Query)
	if err != nil {
		return "", fmt.Errorf("knowledge_base: %w", err)
	}

	logging.FromContext(ctx).Debug("knowledge base searched",
		"query", input.Query,
		"results", len(docs),
	)

	out, err := json.Marshal(docs)
	if err != nil {
		return "", fmt.Errorf("knowledge_base: failed to encode results: %w", err)
	}
	return string(out), nil
}

// DecodeDocuments parses the JSON document list produced by InvokableRun.
// The agent uses it to recover typed documents from a tool observation for
// citation extraction.
func DecodeDocuments(observation string) ([]rag.Document, error) {
	var docs []rag.Document
	if err := json.Unmarshal([]byte(observation), &docs); err != nil {
		return nil, fmt.Errorf("knowledge_base: failed to decode results: %w", err)
	}
	return docs, nil
}
