package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/edupolicy/policychat-go/internal/rag"
	"github.com/edupolicy/policychat-go/internal/tools"
)

// scriptedModel replays a fixed sequence of responses. Each Generate call
// pops the next response; running past the script is a test failure surfaced
// as an error.
type scriptedModel struct {
	responses []*schema.Message
	calls     int
	// lastInput captures the message slice of the most recent Generate call.
	lastInput []*schema.Message
}

func (m *scriptedModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.lastInput = in
	if m.calls >= len(m.responses) {
		return nil, fmt.Errorf("scripted model exhausted after %d calls", m.calls)
	}
	resp := m.responses[m.calls]
	m.calls++
	return resp, nil
}

func (m *scriptedModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

func (m *scriptedModel) WithTools(ts []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

// searchCall builds an assistant message requesting one knowledge_base call.
func searchCall(id, query string) *schema.Message {
	args, _ := json.Marshal(map[string]string{"query": query})
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:       id,
			Function: schema.FunctionCall{Name: tools.KnowledgeBaseName, Arguments: string(args)},
		}},
	}
}

// fakeRetriever satisfies rag.Retriever with canned results.
type fakeRetriever struct {
	docs []rag.Document
	err  error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string) ([]rag.Document, error) {
	return f.docs, f.err
}

func newTestAgent(t *testing.T, m model.ToolCallingChatModel, r rag.Retriever, maxRounds int) *Agent {
	t.Helper()
	a, err := New(context.Background(), &Config{
		ChatModel:     m,
		Tools:         []tool.InvokableTool{tools.NewKnowledgeBaseTool(r)},
		MaxToolRounds: maxRounds,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestAgent_SearchThenAnswer(t *testing.T) {
	t.Parallel()

	docs := []rag.Document{{ID: "1", Title: "Pell Grants", Content: "max award", Score: 0.9}}
	m := &scriptedModel{responses: []*schema.Message{
		searchCall("call-1", "pell grant maximum"),
		schema.AssistantMessage("The maximum Pell Grant award is set annually.", nil),
	}}

	res, err := newTestAgent(t, m, &fakeRetriever{docs: docs}, 0).Run(
		context.Background(), "What is the maximum Pell Grant?", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Output == "" {
		t.Error("empty output")
	}
	if len(res.Steps) != 1 {
		t.Fatalf("want 1 step, got %d", len(res.Steps))
	}
	if res.Steps[0].Tool != tools.KnowledgeBaseName {
		t.Errorf("step tool = %q", res.Steps[0].Tool)
	}
	if len(res.Steps[0].Documents) != 1 {
		t.Errorf("step documents = %d, want 1", len(res.Steps[0].Documents))
	}
	if got := Citations(res.Steps); len(got) != 1 || got[0].Title != "Pell Grants" {
		t.Errorf("Citations = %+v", got)
	}
}

func TestAgent_NoGroundingStillAnswers(t *testing.T) {
	t.Parallel()

	m := &scriptedModel{responses: []*schema.Message{
		searchCall("call-1", "obscure topic"),
		schema.AssistantMessage("I could not find the answer in the available documents.", nil),
	}}

	res, err := newTestAgent(t, m, &fakeRetriever{docs: []rag.Document{}}, 0).Run(
		context.Background(), "Something the corpus does not cover?", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Output == "" {
		t.Error("empty output for ungrounded question")
	}
	if len(res.Steps) != 1 || res.Steps[0].IsException() {
		t.Fatalf("steps = %+v, want one successful invocation", res.Steps)
	}
	if got := Citations(res.Steps); got != nil {
		t.Errorf("Citations with no documents = %+v, want nil", got)
	}
}

func TestAgent_DirectAnswerWithoutTools(t *testing.T) {
	t.Parallel()

	m := &scriptedModel{responses: []*schema.Message{
		schema.AssistantMessage("Hello! Ask me about financial aid.", nil),
	}}

	res, err := newTestAgent(t, m, &fakeRetriever{}, 0).Run(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Steps) != 0 {
		t.Errorf("want no steps, got %d", len(res.Steps))
	}
	if res.Output != "Hello! Ask me about financial aid." {
		t.Errorf("Output = %q", res.Output)
	}
}

func TestAgent_BadToolArgsRecordedAsException(t *testing.T) {
	t.Parallel()

	badCall := &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:       "call-1",
			Function: schema.FunctionCall{Name: tools.KnowledgeBaseName, Arguments: "not json"},
		}},
	}
	m := &scriptedModel{responses: []*schema.Message{
		badCall,
		schema.AssistantMessage("I could not search the knowledge base.", nil),
	}}

	res, err := newTestAgent(t, m, &fakeRetriever{}, 0).Run(context.Background(), "question", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Steps) != 1 {
		t.Fatalf("want 1 step, got %d", len(res.Steps))
	}
	if !res.Steps[0].IsException() {
		t.Errorf("step = %+v, want exception", res.Steps[0])
	}
	if got := Citations(res.Steps); got != nil {
		t.Errorf("Citations over exception steps = %+v, want nil", got)
	}
}

func TestAgent_UnknownToolRecordedAsException(t *testing.T) {
	t.Parallel()

	call := &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:       "call-1",
			Function: schema.FunctionCall{Name: "no_such_tool", Arguments: "{}"},
		}},
	}
	m := &scriptedModel{responses: []*schema.Message{
		call,
		schema.AssistantMessage("done", nil),
	}}

	res, err := newTestAgent(t, m, &fakeRetriever{}, 0).Run(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Steps) != 1 || !res.Steps[0].IsException() {
		t.Fatalf("steps = %+v, want one exception", res.Steps)
	}
	if !strings.Contains(res.Steps[0].Log, "no_such_tool") {
		t.Errorf("exception log = %q, want tool name", res.Steps[0].Log)
	}
}

func TestAgent_RoundCapForcesFinalAnswer(t *testing.T) {
	t.Parallel()

	// Model asks for a search on every round, then answers when forced.
	m := &scriptedModel{responses: []*schema.Message{
		searchCall("c1", "q1"),
		searchCall("c2", "q2"),
		schema.AssistantMessage("Best effort answer from two searches.", nil),
	}}

	res, err := newTestAgent(t, m, &fakeRetriever{docs: []rag.Document{{ID: "1"}}}, 2).Run(
		context.Background(), "question", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Steps) != 2 {
		t.Errorf("want 2 steps, got %d", len(res.Steps))
	}
	if res.Output != "Best effort answer from two searches." {
		t.Errorf("Output = %q", res.Output)
	}
	// The forcing instruction must be the last user message sent.
	last := m.lastInput[len(m.lastInput)-1]
	if last.Role != schema.User || !strings.Contains(last.Content, "Stop searching") {
		t.Errorf("last message = %+v, want forcing instruction", last)
	}
}

func TestAgent_MemoryIncludedInPrompt(t *testing.T) {
	t.Parallel()

	m := &scriptedModel{responses: []*schema.Message{
		schema.AssistantMessage("answer", nil),
	}}
	memory := []*schema.Message{
		schema.UserMessage("earlier question"),
		schema.AssistantMessage("earlier answer", nil),
	}

	if _, err := newTestAgent(t, m, &fakeRetriever{}, 0).Run(context.Background(), "follow-up", memory); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Expect: system, 2 memory messages, user input.
	if len(m.lastInput) != 4 {
		t.Fatalf("model received %d messages, want 4", len(m.lastInput))
	}
	if m.lastInput[1].Content != "earlier question" || m.lastInput[2].Content != "earlier answer" {
		t.Errorf("memory not forwarded: %+v", m.lastInput[1:3])
	}
}

func TestAgent_ConstructorValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), &Config{Tools: []tool.InvokableTool{tools.NewKnowledgeBaseTool(&fakeRetriever{})}}); err == nil {
		t.Error("expected error for nil chat model")
	}
	if _, err := New(context.Background(), &Config{ChatModel: &scriptedModel{}}); err == nil {
		t.Error("expected error for empty tool list")
	}
}
