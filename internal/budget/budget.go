// Package budget provides token budget estimation and history trimming for
// the assistant's context window. The assistant supports multiple LLM
// backends with different tokenizers, so estimation uses a conservative
// character-based heuristic: 1 token is roughly 4 characters of English
// prose. The heuristic deliberately over-counts to leave headroom for
// model-specific overhead.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget. It fits
	// within 8k-context models while leaving room for the generated answer
	// and the retrieved passages injected by the knowledge base tool.
	// Override via AGENT_MAX_CONTEXT_TOKENS.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
// Non-empty strings always estimate to at least 1.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// chat messages, summing role + content plus a small per-message overhead.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Most chat APIs charge ~4 tokens of framing per message.
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimHistory drops the oldest history messages until fixed + history fits
// within maxTokens. fixed holds messages that must survive (system prompt,
// current user question); history holds prior conversation turns.
//
// If even an empty history exceeds the budget the empty slice is returned;
// fixed messages are never dropped here.
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	fixedTokens := EstimateMessages(fixed)
	for len(history) > 0 {
		if fixedTokens+EstimateMessages(history) <= maxTokens {
			break
		}
		history = history[1:]
	}
	return history
}

// TrimHistoryPairs behaves like TrimHistory but drops whole leading
// user/assistant exchanges instead of single messages, so a surviving
// assistant answer is never separated from the question that produced it.
// A leading orphan (history starting mid-pair) is dropped alone.
func TrimHistoryPairs(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	fixedTokens := EstimateMessages(fixed)
	for len(history) > 0 {
		if fixedTokens+EstimateMessages(history) <= maxTokens {
			break
		}
		drop := 1
		if len(history) >= 2 && history[0].Role == schema.User && history[1].Role == schema.Assistant {
			drop = 2
		}
		history = history[drop:]
	}
	return history
}
