package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/edupolicy/policychat-go/internal/rag"
)

// fakeRetriever returns canned documents or an error.
type fakeRetriever struct {
	docs      []rag.Document
	err       error
	lastQuery string
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string) ([]rag.Document, error) {
	f.lastQuery = query
	return f.docs, f.err
}

func TestKnowledgeBaseTool_Info(t *testing.T) {
	t.Parallel()

	tool := NewKnowledgeBaseTool(&fakeRetriever{})
	info, err := tool.Info(context.Background())
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Name != KnowledgeBaseName {
		t.Errorf("Info.Name = %q, want %q", info.Name, KnowledgeBaseName)
	}
	if info.Desc == "" {
		t.Error("Info.Desc is empty")
	}
}

func TestKnowledgeBaseTool_Run(t *testing.T) {
	t.Parallel()

	fake := &fakeRetriever{docs: []rag.Document{
		{ID: "1", Title: "Pell Grants", Content: "eligibility rules", Source: "https://docs.example.com/fsa-handbook-vol1.pdf", Score: 0.92},
	}}
	tool := NewKnowledgeBaseTool(fake)

	out, err := tool.InvokableRun(context.Background(), `{"query":"pell grant eligibility"}`)
	if err != nil {
		t.Fatalf("InvokableRun: %v", err)
	}
	if fake.lastQuery != "pell grant eligibility" {
		t.Errorf("retriever got query %q", fake.lastQuery)
	}

	docs, err := DecodeDocuments(out)
	if err != nil {
		t.Fatalf("DecodeDocuments: %v", err)
	}
	if len(docs) != 1 || docs[0].Title != "Pell Grants" {
		t.Errorf("round-tripped docs = %+v", docs)
	}
}

func TestKnowledgeBaseTool_EmptyResults(t *testing.T) {
	t.Parallel()

	tool := NewKnowledgeBaseTool(&fakeRetriever{docs: []rag.Document{}})
	out, err := tool.InvokableRun(context.Background(), `{"query":"nothing matches"}`)
	if err != nil {
		t.Fatalf("InvokableRun: %v", err)
	}
	docs, err := DecodeDocuments(out)
	if err != nil {
		t.Fatalf("DecodeDocuments: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("want empty doc list, got %d", len(docs))
	}
}

func TestKnowledgeBaseTool_InvalidInput(t *testing.T) {
	t.Parallel()

	tool := NewKnowledgeBaseTool(&fakeRetriever{})
	if _, err := tool.InvokableRun(context.Background(), `not json`); err == nil {
		t.Error("expected error for malformed input")
	}
	if _, err := tool.InvokableRun(context.Background(), `{}`); err == nil {
		t.Error("expected error for missing query")
	}
}

func TestKnowledgeBaseTool_RetrievalErrorSurfaced(t *testing.T) {
	t.Parallel()

	wrapped := &rag.RetrievalError{Stage: "search", Err: errors.New("connection refused")}
	tool := NewKnowledgeBaseTool(&fakeRetriever{err: wrapped})

	_, err := tool.InvokableRun(context.Background(), `{"query":"q"}`)
	if err == nil {
		t.Fatal("expected error")
	}
	var re *rag.RetrievalError
	if !errors.As(err, &re) {
		t.Errorf("error %v does not wrap *rag.RetrievalError", err)
	}
	if !strings.Contains(err.Error(), "knowledge_base") {
		t.Errorf("error %q does not name the tool", err.Error())
	}
}
