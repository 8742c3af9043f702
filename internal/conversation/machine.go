// Package conversation implements the per-session state machine that
// sequences question answering and feedback collection. A session moves
// Idle -> Processing -> AwaitingFeedback -> Idle; the machine owns all
// conversation state so presentation layers (HTTP API, TUI) stay thin.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/edupolicy/policychat-go/internal/agent"
	"github.com/edupolicy/policychat-go/internal/logging"
	"github.com/edupolicy/policychat-go/internal/rag"
	"github.com/edupolicy/policychat-go/internal/store"
)

// State is the conversation lifecycle position of a session.
type State string

const (
	// StateIdle means the session is ready for a new question.
	StateIdle State = "idle"
	// StateProcessing means a question is being answered.
	StateProcessing State = "processing"
	// StateAwaitingFeedback means an answer was produced and the feedback
	// prompt has not been consumed yet.
	StateAwaitingFeedback State = "awaiting_feedback"
)

// ErrInvalidState is returned when an operation is not legal in the
// session's current state.
var ErrInvalidState = errors.New("conversation: invalid state for operation")

// ErrEmptyInput is returned when Submit is called with empty or
// whitespace-only user text.
var ErrEmptyInput = errors.New("conversation: empty user text")

// DefaultFeedbackRating is recorded when feedback is submitted without an
// explicit rating.
const DefaultFeedbackRating = 3

// Feedback is a user rating attached to a completed turn.
type Feedback struct {
	// Rating is the 1-5 score.
	Rating int `json:"rating"`
	// Comment is optional free text.
	Comment string `json:"comment,omitempty"`
	// SessionID identifies the session the feedback belongs to.
	SessionID string `json:"sessionId"`
	// At is when the feedback was recorded.
	At time.Time `json:"at"`
}

// Turn is one completed question/answer exchange.
type Turn struct {
	// User is the question text.
	User string `json:"user"`
	// Answer is the assistant's grounded answer.
	Answer string `json:"answer"`
	// Steps is the agent's tool invocation trace for the turn.
	Steps []agent.ToolInvocation `json:"steps,omitempty"`
	// Citations is the document set backing the answer; empty when the
	// corpus had no grounding for the question.
	Citations []rag.Document `json:"citations,omitempty"`
	// At is when the answer was produced.
	At time.Time `json:"at"`
	// Feedback is the rating for this turn, if one was submitted.
	Feedback *Feedback `json:"feedback,omitempty"`
}

// Runner executes one agent turn. *agent.Agent satisfies it; tests inject
// fakes.
type Runner interface {
	Run(ctx context.Context, input string, memory []*schema.Message) (*agent.Result, error)
}

// turnMetadata is the JSON blob persisted alongside an assistant message.
type turnMetadata struct {
	Steps     []agent.ToolInvocation `json:"steps,omitempty"`
	Citations []rag.Document         `json:"citations,omitempty"`
}

// Machine sequences a single session. All operations are strictly
// serialized under one lock, so a session never has two turns in
// flight at once.
type Machine struct {
	mu        sync.Mutex
	sessionID string
	state     State
	turns     []Turn

	runner       Runner
	history      store.HistoryStore // may be nil (stateless session)
	historyDepth int
}

// Option customises a Machine.
type Option func(*Machine)

// WithSessionID attaches the machine to an existing session instead of
// generating a fresh identifier. Used when resuming persisted sessions.
func WithSessionID(id string) Option {
	return func(m *Machine) { m.sessionID = id }
}

// WithHistoryDepth sets how many persisted messages are replayed into the
// model context per question. Defaults to 20.
func WithHistoryDepth(n int) Option {
	return func(m *Machine) { m.historyDepth = n }
}

// New constructs an idle Machine for a fresh session. history may be nil,
// in which case memory lives only for the life of the process.
func New(runner Runner, history store.HistoryStore, opts ...Option) *Machine {
	m := &Machine{
		sessionID:    uuid.NewString(),
		state:        StateIdle,
		runner:       runner,
		history:      history,
		historyDepth: 20,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SessionID returns the session identifier.
func (m *Machine) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Turns returns a copy of the completed turns for this session.
func (m *Machine) Turns() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

// Submit runs one question through the agent. The user text must be
// non-empty. Legal from Idle; legal from AwaitingFeedback too, which
// abandons the unconsumed feedback prompt (the user chose to ask on rather
// than rate). The lock is held for the whole turn, giving the strict
// per-session sequencing the lifecycle requires.
func (m *Machine) Submit(ctx context.Context, input string) (*Turn, error) {
	if strings.TrimSpace(input) == "" {
		return nil, ErrEmptyInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateIdle:
	case StateAwaitingFeedback:
		// Asking a new question forfeits the pending feedback prompt.
	default:
		return nil, fmt.Errorf("%w: cannot submit while %s", ErrInvalidState, m.state)
	}

	m.state = StateProcessing
	log := logging.FromContext(ctx)

	memory := m.memoryLocked(ctx)

	// Persist the question before running: the transcript should show what
	// was asked even if answering fails. Append-only, no retries.
	if m.history != nil {
		if err := m.history.AddUserMessage(ctx, m.sessionID, input); err != nil {
			log.Warn("history: failed to persist user message", slog.Any("error", err))
		}
	}

	res, err := m.runner.Run(ctx, input, memory)
	if err != nil {
		// A failed turn leaves the session ready for a retry.
		m.state = StateIdle
		return nil, fmt.Errorf("conversation: turn failed: %w", err)
	}

	turn := Turn{
		User:      input,
		Answer:    res.Output,
		Steps:     res.Steps,
		Citations: agent.Citations(res.Steps),
		At:        time.Now(),
	}
	m.turns = append(m.turns, turn)

	if m.history != nil {
		meta, merr := json.Marshal(turnMetadata{Steps: res.Steps, Citations: turn.Citations})
		if merr != nil {
			meta = []byte("{}")
		}
		if err := m.history.AddAIMessage(ctx, m.sessionID, res.Output, string(meta)); err != nil {
			log.Warn("history: failed to persist assistant message", slog.Any("error", err))
		}
	}

	m.state = StateAwaitingFeedback
	return &turn, nil
}

// SubmitFeedback records a rating for the most recent answer. Legal only
// from AwaitingFeedback; rating 0 is replaced by DefaultFeedbackRating,
// anything else outside 1-5 is rejected. Consuming the prompt returns the
// session to Idle.
func (m *Machine) SubmitFeedback(ctx context.Context, rating int, comment string) (*Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAwaitingFeedback {
		return nil, fmt.Errorf("%w: no answer awaiting feedback", ErrInvalidState)
	}
	if rating == 0 {
		rating = DefaultFeedbackRating
	}
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("conversation: rating %d out of range [1, 5]", rating)
	}

	fb := &Feedback{
		Rating:    rating,
		Comment:   comment,
		SessionID: m.sessionID,
		At:        time.Now(),
	}
	m.turns[len(m.turns)-1].Feedback = fb

	if m.history != nil {
		if err := m.history.AddFeedback(ctx, m.sessionID, rating, comment); err != nil {
			logging.FromContext(ctx).Warn("history: failed to persist feedback", slog.Any("error", err))
		}
	}

	m.state = StateIdle
	return fb, nil
}

// SkipFeedback dismisses the pending feedback prompt without recording a
// rating, returning the session to Idle.
func (m *Machine) SkipFeedback() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAwaitingFeedback {
		return fmt.Errorf("%w: no feedback prompt to skip", ErrInvalidState)
	}
	m.state = StateIdle
	return nil
}

// Reset starts a fresh session: new session ID, empty transcript. Legal
// only from Idle so an in-flight answer or unconsumed feedback prompt is
// never silently discarded.
func (m *Machine) Reset() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		return "", fmt.Errorf("%w: cannot reset while %s", ErrInvalidState, m.state)
	}
	m.sessionID = uuid.NewString()
	m.turns = nil
	return m.sessionID, nil
}

// memoryLocked builds the model memory for the next turn. Persisted history
// is preferred (it survives restarts); in-process turns are the fallback.
// Caller must hold m.mu.
func (m *Machine) memoryLocked(ctx context.Context) []*schema.Message {
	if m.history != nil {
		prior, err := m.history.Recent(ctx, m.sessionID, m.historyDepth)
		if err != nil {
			logging.FromContext(ctx).Warn("history: failed to load prior messages", slog.Any("error", err))
		} else {
			msgs := make([]*schema.Message, 0, len(prior))
			for _, p := range prior {
				switch p.Role {
				case store.RoleHuman:
					msgs = append(msgs, schema.UserMessage(p.Content))
				case store.RoleAI:
					msgs = append(msgs, schema.AssistantMessage(p.Content, nil))
				}
			}
			return msgs
		}
	}

	msgs := make([]*schema.Message, 0, len(m.turns)*2)
	for _, t := range m.turns {
		msgs = append(msgs, schema.UserMessage(t.User))
		msgs = append(msgs, schema.AssistantMessage(t.Answer, nil))
	}
	return msgs
}

// ReplayTranscript converts persisted history into turns for display when a
// client attaches to an existing session. Feedback rows are not folded back
// into turns; they are shown by the history endpoint separately.
func ReplayTranscript(ctx context.Context, history store.HistoryStore, sessionID string) ([]Turn, error) {
	msgs, err := history.Messages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("conversation: replay: %w", err)
	}

	var turns []Turn
	for _, msg := range msgs {
		switch msg.Role {
		case store.RoleHuman:
			turns = append(turns, Turn{User: msg.Content, At: msg.CreatedAt})
		case store.RoleAI:
			if len(turns) == 0 || turns[len(turns)-1].Answer != "" {
				// Orphan answer with no preceding question; keep it visible.
				turns = append(turns, Turn{At: msg.CreatedAt})
			}
			last := &turns[len(turns)-1]
			last.Answer = msg.Content
			last.At = msg.CreatedAt
			if msg.Metadata != "" {
				var meta turnMetadata
				if err := json.Unmarshal([]byte(msg.Metadata), &meta); err == nil {
					last.Steps = meta.Steps
					last.Citations = meta.Citations
				}
			}
		}
	}
	return turns, nil
}
