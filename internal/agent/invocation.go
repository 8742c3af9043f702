package agent

import (
	"github.com/edupolicy/policychat-go/internal/rag"
)

// ExceptionTool is the tool name recorded when a tool call could not be
// executed (unparseable arguments, unknown tool, or a tool runtime error).
// Exception steps are kept in the trace for debugging but are never used for
// citation extraction.
const ExceptionTool = "_Exception"

// ToolInvocation records one tool call made by the model during a turn.
type ToolInvocation struct {
	// Tool is the tool name the model called, or ExceptionTool when the
	// call failed before producing a usable observation.
	Tool string `json:"tool"`

	// Input is the raw JSON argument string the model supplied.
	Input string `json:"input"`

	// Log is the tool observation returned to the model, or the error text
	// for exception steps.
	Log string `json:"log"`

	// Documents holds the typed retrieval results when the invocation was a
	// knowledge base search. Empty for other tools and exception steps.
	Documents []rag.Document `json:"documents,omitempty"`
}

// IsException reports whether this invocation records a failed tool call.
func (inv ToolInvocation) IsException() bool {
	return inv.Tool == ExceptionTool
}

// Citations returns the documents backing the answer: the retrieval results
// of the first successful knowledge base invocation in the trace. Later
// searches refine the model's reasoning but the first one reflects the
// user's question most directly. A successful search that found nothing is
// deliberately passed over, not treated as the answer's grounding, so that a
// refined later search can still supply citations.
func Citations(steps []ToolInvocation) []rag.Document {
	for _, step := range steps {
		if step.IsException() {
			continue
		}
		if len(step.Documents) > 0 {
			return step.Documents
		}
	}
	return nil
}
