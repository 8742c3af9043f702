// Package agent implements the retrieval-grounded answering loop at the core
// of the assistant. The agent binds the knowledge base tool to the chat
// model, lets the model search the corpus as many times as it needs (up to a
// bounded number of rounds), records every tool invocation, and returns the
// final grounded answer together with the trace.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/edupolicy/policychat-go/internal/budget"
	"github.com/edupolicy/policychat-go/internal/logging"
	"github.com/edupolicy/policychat-go/internal/tools"
)

// systemPrompt establishes the assistant's persona and grounding rules. The
// model must search the knowledge base before answering and must not invent
// policy details that the retrieved passages do not support.
const systemPrompt = `You are an expert assistant for United States federal
student aid and education policy. You answer questions about FAFSA, Pell
Grants, federal loan programs, eligibility rules, and related institutional
policy for students, parents, and financial aid advisors.

Rules you must follow on every question:

1. Always call the knowledge_base tool to search the policy corpus before
   answering. Base your answer only on the passages it returns.
2. If the knowledge base returns nothing relevant, say that you could not
   find the answer in the available documents. Never guess or invent policy
   details, dollar amounts, deadlines, or eligibility criteria.
3. Answer in plain language a student or parent can follow. Quote exact
   figures and deadlines from the passages when they are present.
4. You may search the knowledge base again with a refined query if the first
   results do not cover the question.
5. This is general guidance, not legal or financial advice. When a question
   depends on an individual's circumstances, say so and recommend the
   school's financial aid office.`

// DefaultMaxToolRounds bounds how many model/tool iterations a single turn
// may take before the agent forces a final answer. Override via
// AGENT_MAX_TOOL_ROUNDS.
const DefaultMaxToolRounds = 5

// Config holds the dependencies required to construct an Agent.
type Config struct {
	// ChatModel is the LLM backend constructed by the provider factory.
	ChatModel model.ToolCallingChatModel

	// Tools is the list of tools available to the model. Must include the
	// knowledge base tool for the assistant to be able to answer anything.
	Tools []tool.InvokableTool

	// MaxToolRounds bounds the tool loop. Defaults to DefaultMaxToolRounds
	// if zero.
	MaxToolRounds int

	// MaxContextTokens is the estimated token budget for the full input
	// context. Conversation memory is trimmed oldest-first to fit.
	// Defaults to budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int
}

// Result is the outcome of one agent turn.
type Result struct {
	// Output is the model's final answer text.
	Output string

	// Steps is the ordered trace of tool invocations made during the turn,
	// including exception steps for failed calls.
	Steps []ToolInvocation
}

// Agent runs the bounded tool-calling loop for one conversation turn at a
// time. It is safe for concurrent use; all per-turn state lives on the stack.
type Agent struct {
	chatModel     model.ToolCallingChatModel
	toolsByName   map[string]tool.InvokableTool
	maxToolRounds int
	maxContext    int
}

// New constructs an Agent from the provided Config. The chat model is bound
// to the tool schemas once, at construction time.
func New(ctx context.Context, cfg *Config) (*Agent, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("agent: ChatModel must not be nil")
	}
	if len(cfg.Tools) == 0 {
		return nil, fmt.Errorf("agent: at least one tool is required")
	}

	infos := make([]*schema.ToolInfo, 0, len(cfg.Tools))
	byName := make(map[string]tool.InvokableTool, len(cfg.Tools))
	for _, t := range cfg.Tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("agent: failed to read tool info: %w", err)
		}
		infos = append(infos, info)
		byName[info.Name] = t
	}

	bound, err := cfg.ChatModel.WithTools(infos)
	if err != nil {
		return nil, fmt.Errorf("agent: failed to bind tools: %w", err)
	}

	rounds := cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = DefaultMaxToolRounds
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}

	return &Agent{
		chatModel:     bound,
		toolsByName:   byName,
		maxToolRounds: rounds,
		maxContext:    maxCtx,
	}, nil
}

// Run executes one turn: the user's input plus prior conversation memory go
// to the model, tool calls are executed and fed back until the model
// produces a plain answer or the round cap is reached. The returned Result
// always carries the full invocation trace, even on a capped turn.
func (a *Agent) Run(ctx context.Context, input string, memory []*schema.Message) (*Result, error) {
	log := logging.FromContext(ctx)

	fixed := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(input),
	}
	memory = budget.TrimHistoryPairs(fixed, memory, a.maxContext)

	messages := make([]*schema.Message, 0, len(memory)+2)
	messages = append(messages, schema.SystemMessage(systemPrompt))
	messages = append(messages, memory...)
	messages = append(messages, schema.UserMessage(input))

	result := &Result{}

	for round := 0; round < a.maxToolRounds; round++ {
		msg, err := a.chatModel.Generate(ctx, messages)
		if err != nil {
			return nil, fmt.Errorf("agent: model generation failed: %w", err)
		}

		if len(msg.ToolCalls) == 0 {
			result.Output = msg.Content
			return result, nil
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			observation, inv := a.invoke(ctx, call)
			result.Steps = append(result.Steps, inv)
			messages = append(messages, schema.ToolMessage(observation, call.ID))
		}

		log.Debug("agent tool round completed",
			slog.Int("round", round+1),
			slog.Int("tool_calls", len(msg.ToolCalls)),
		)
	}

	// Round cap reached with the model still asking for tools. Force a final
	// answer from whatever has been gathered so far.
	log.Warn("agent tool round cap reached, forcing final answer",
		slog.Int("max_rounds", a.maxToolRounds),
	)
	messages = append(messages, schema.UserMessage(
		"Stop searching. Answer now using only the information already retrieved. "+
			"If it is not enough, say you could not find the answer."))
	msg, err := a.chatModel.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("agent: final generation failed: %w", err)
	}
	result.Output = msg.Content
	if result.Output == "" {
		result.Output = "I could not find the answer in the available documents."
	}
	return result, nil
}

// invoke executes a single tool call and returns the observation text for
// the model plus the trace record. Failures never abort the turn: they are
// recorded as exception steps and described to the model so it can retry or
// answer without the tool.
func (a *Agent) invoke(ctx context.Context, call schema.ToolCall) (string, ToolInvocation) {
	name := call.Function.Name
	args := call.Function.Arguments

	t, ok := a.toolsByName[name]
	if !ok {
		errText := fmt.Sprintf("tool %q does not exist", name)
		return errText, ToolInvocation{Tool: ExceptionTool, Input: args, Log: errText}
	}

	observation, err := t.InvokableRun(ctx, args)
	if err != nil {
		errText := fmt.Sprintf("tool %q failed: %v", name, err)
		logging.FromContext(ctx).Warn("tool invocation failed",
			slog.String("tool", name),
			slog.Any("error", err),
		)
		return errText, ToolInvocation{Tool: ExceptionTool, Input: args, Log: errText}
	}

	inv := ToolInvocation{Tool: name, Input: args, Log: observation}
	if name == tools.KnowledgeBaseName {
		if docs, derr := tools.DecodeDocuments(observation); derr == nil {
			inv.Documents = docs
		}
	}
	return observation, inv
}
