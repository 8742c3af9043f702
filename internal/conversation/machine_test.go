package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/edupolicy/policychat-go/internal/agent"
	"github.com/edupolicy/policychat-go/internal/rag"
	"github.com/edupolicy/policychat-go/internal/store"
)

// fakeRunner returns a canned result or error and records the memory it saw.
type fakeRunner struct {
	result     *agent.Result
	err        error
	lastMemory []*schema.Message
}

func (f *fakeRunner) Run(ctx context.Context, input string, memory []*schema.Message) (*agent.Result, error) {
	f.lastMemory = memory
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func answeredResult() *agent.Result {
	return &agent.Result{
		Output: "Pell Grants are need-based federal grants.",
		Steps: []agent.ToolInvocation{{
			Tool:      "knowledge_base",
			Input:     `{"query":"pell grants"}`,
			Documents: []rag.Document{{ID: "1", Title: "Pell Grants", Score: 0.9}},
		}},
	}
}

func openTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_Machine_FullTurnLifecycle(t *testing.T) {
	t.Parallel()
	m := New(&fakeRunner{result: answeredResult()}, nil)
	ctx := context.Background()

	if m.State() != StateIdle {
		t.Fatalf("initial state = %s", m.State())
	}

	turn, err := m.Submit(ctx, "What are Pell Grants?")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if turn.Answer == "" {
		t.Error("empty answer")
	}
	if len(turn.Citations) != 1 {
		t.Errorf("citations = %d, want 1", len(turn.Citations))
	}
	if m.State() != StateAwaitingFeedback {
		t.Errorf("state after answer = %s", m.State())
	}

	fb, err := m.SubmitFeedback(ctx, 5, "great")
	if err != nil {
		t.Fatalf("SubmitFeedback: %v", err)
	}
	if fb.Rating != 5 || fb.SessionID != m.SessionID() {
		t.Errorf("feedback = %+v", fb)
	}
	if m.State() != StateIdle {
		t.Errorf("state after feedback = %s", m.State())
	}

	turns := m.Turns()
	if len(turns) != 1 || turns[0].Feedback == nil {
		t.Errorf("turns = %+v", turns)
	}
}

func Test_Machine_EmptySubmitRejected(t *testing.T) {
	t.Parallel()
	m := New(&fakeRunner{result: answeredResult()}, nil)
	ctx := context.Background()

	for _, input := range []string{"", "   ", "\t\n"} {
		if _, err := m.Submit(ctx, input); !errors.Is(err, ErrEmptyInput) {
			t.Errorf("Submit(%q) err = %v, want ErrEmptyInput", input, err)
		}
	}
	if m.State() != StateIdle {
		t.Errorf("state after empty submit = %s, want idle", m.State())
	}
	if len(m.Turns()) != 0 {
		t.Errorf("empty submit recorded %d turns", len(m.Turns()))
	}
}

func Test_Machine_EmptySubmitNotPersisted(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	m := New(&fakeRunner{result: answeredResult()}, s)
	ctx := context.Background()

	if _, err := m.Submit(ctx, "   "); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("Submit err = %v, want ErrEmptyInput", err)
	}
	msgs, err := s.Messages(ctx, m.SessionID())
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("empty submit persisted %d messages", len(msgs))
	}
}

func Test_Machine_DefaultFeedbackRating(t *testing.T) {
	t.Parallel()
	m := New(&fakeRunner{result: answeredResult()}, nil)
	ctx := context.Background()

	if _, err := m.Submit(ctx, "q"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	fb, err := m.SubmitFeedback(ctx, 0, "")
	if err != nil {
		t.Fatalf("SubmitFeedback: %v", err)
	}
	if fb.Rating != DefaultFeedbackRating {
		t.Errorf("rating = %d, want %d", fb.Rating, DefaultFeedbackRating)
	}
}

func Test_Machine_FeedbackWithoutAnswerRejected(t *testing.T) {
	t.Parallel()
	m := New(&fakeRunner{result: answeredResult()}, nil)

	_, err := m.SubmitFeedback(context.Background(), 4, "")
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
}

func Test_Machine_FeedbackConsumedOnce(t *testing.T) {
	t.Parallel()
	m := New(&fakeRunner{result: answeredResult()}, nil)
	ctx := context.Background()

	if _, err := m.Submit(ctx, "q"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := m.SubmitFeedback(ctx, 4, ""); err != nil {
		t.Fatalf("first feedback: %v", err)
	}
	if _, err := m.SubmitFeedback(ctx, 5, ""); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second feedback err = %v, want ErrInvalidState", err)
	}
}

func Test_Machine_NewQuestionAbandonsFeedbackPrompt(t *testing.T) {
	t.Parallel()
	m := New(&fakeRunner{result: answeredResult()}, nil)
	ctx := context.Background()

	if _, err := m.Submit(ctx, "first"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := m.Submit(ctx, "second"); err != nil {
		t.Fatalf("second submit while awaiting feedback: %v", err)
	}
	turns := m.Turns()
	if len(turns) != 2 {
		t.Fatalf("want 2 turns, got %d", len(turns))
	}
	if turns[0].Feedback != nil {
		t.Error("abandoned prompt recorded feedback")
	}
}

func Test_Machine_ResetOnlyFromIdle(t *testing.T) {
	t.Parallel()
	m := New(&fakeRunner{result: answeredResult()}, nil)
	ctx := context.Background()

	oldID := m.SessionID()
	if _, err := m.Submit(ctx, "q"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, err := m.Reset(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("reset while awaiting feedback: err = %v, want ErrInvalidState", err)
	}

	if err := m.SkipFeedback(); err != nil {
		t.Fatalf("SkipFeedback: %v", err)
	}
	newID, err := m.Reset()
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if newID == oldID {
		t.Error("reset did not rotate session ID")
	}
	if len(m.Turns()) != 0 {
		t.Error("reset did not clear turns")
	}
}

func Test_Machine_ResetKeepsPersistedHistory(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	m := New(&fakeRunner{result: answeredResult()}, s)
	ctx := context.Background()

	if _, err := m.Submit(ctx, "What are Pell Grants?"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := m.SkipFeedback(); err != nil {
		t.Fatalf("SkipFeedback: %v", err)
	}

	oldID := m.SessionID()
	if _, err := m.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if len(m.Turns()) != 0 {
		t.Error("reset did not clear local turns")
	}

	// Reset is local only: the persisted transcript for the old session
	// must survive untouched.
	msgs, err := s.Messages(ctx, oldID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("persisted messages after reset = %d, want 2", len(msgs))
	}
	if msgs[0].Role != store.RoleHuman || msgs[1].Role != store.RoleAI {
		t.Errorf("roles = %s, %s", msgs[0].Role, msgs[1].Role)
	}
}

func Test_Machine_FailedTurnReturnsToIdle(t *testing.T) {
	t.Parallel()
	m := New(&fakeRunner{err: errors.New("model unavailable")}, nil)

	if _, err := m.Submit(context.Background(), "q"); err == nil {
		t.Fatal("expected error")
	}
	if m.State() != StateIdle {
		t.Errorf("state after failed turn = %s, want idle", m.State())
	}
}

func Test_Machine_MemoryFromPriorTurns(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{result: answeredResult()}
	m := New(runner, nil)
	ctx := context.Background()

	if _, err := m.Submit(ctx, "first"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := m.Submit(ctx, "second"); err != nil {
		t.Fatalf("second submit: %v", err)
	}

	if len(runner.lastMemory) != 2 {
		t.Fatalf("memory = %d messages, want 2", len(runner.lastMemory))
	}
	if runner.lastMemory[0].Content != "first" {
		t.Errorf("memory[0] = %q", runner.lastMemory[0].Content)
	}
}

func Test_Machine_PersistsTurnAndFeedback(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	m := New(&fakeRunner{result: answeredResult()}, s)
	ctx := context.Background()

	if _, err := m.Submit(ctx, "What are Pell Grants?"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := m.SubmitFeedback(ctx, 4, "clear answer"); err != nil {
		t.Fatalf("SubmitFeedback: %v", err)
	}

	msgs, err := s.Messages(ctx, m.SessionID())
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("persisted messages = %d, want 2", len(msgs))
	}
	if msgs[0].Role != store.RoleHuman || msgs[1].Role != store.RoleAI {
		t.Errorf("roles = %s, %s", msgs[0].Role, msgs[1].Role)
	}
	if msgs[1].Metadata == "" {
		t.Error("assistant message has no metadata")
	}

	fbs, err := s.FeedbackFor(ctx, m.SessionID())
	if err != nil {
		t.Fatalf("FeedbackFor: %v", err)
	}
	if len(fbs) != 1 || fbs[0].Rating != 4 {
		t.Errorf("feedback = %+v", fbs)
	}
}

func Test_ReplayTranscript(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AddUserMessage(ctx, "sess-r", "what is fafsa"); err != nil {
		t.Fatal(err)
	}
	meta := `{"citations":[{"id":"1","title":"FAFSA Basics","content":"","source":"","score":0.8}]}`
	if err := s.AddAIMessage(ctx, "sess-r", "the aid application", meta); err != nil {
		t.Fatal(err)
	}

	turns, err := ReplayTranscript(ctx, s, "sess-r")
	if err != nil {
		t.Fatalf("ReplayTranscript: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("turns = %d, want 1", len(turns))
	}
	if turns[0].User != "what is fafsa" || turns[0].Answer != "the aid application" {
		t.Errorf("turn = %+v", turns[0])
	}
	if len(turns[0].Citations) != 1 || turns[0].Citations[0].Title != "FAFSA Basics" {
		t.Errorf("citations = %+v", turns[0].Citations)
	}
}
