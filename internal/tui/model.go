// Package tui implements the interactive terminal chat front end started by
// `policychat chat`. It is a thin presentation layer: all conversation state
// lives in the conversation.Machine, the TUI only renders it.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/edupolicy/policychat-go/internal/conversation"
)

// defaultPlaceholder seeds the input with an example question so a first-time
// user knows what kind of question to ask.
const defaultPlaceholder = "What is UnidosUS?"

// turnMsg carries the outcome of an asynchronous agent turn back into Update.
type turnMsg struct {
	turn *conversation.Turn
	err  error
}

// Model is the Bubble Tea model for the chat TUI.
type Model struct {
	machine  *conversation.Machine
	replayed []conversation.Turn
	input    textinput.Model
	viewport viewport.Model
	status   string
	busy     bool
	ready    bool
}

// New creates a chat TUI over the given conversation machine. replayed
// holds turns loaded from the history store when resuming a session; they
// are shown above the live transcript.
func New(machine *conversation.Machine, replayed ...conversation.Turn) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = defaultPlaceholder
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		machine:  machine,
		replayed: replayed,
		input:    ti,
		viewport: vp,
		status:   "Ask a question about federal student aid. Ctrl+R resets, Ctrl+C quits.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// submitCmd runs one agent turn off the Update loop so the UI stays
// responsive while the model and retrieval round trips run.
func (m Model) submitCmd(question string) tea.Cmd {
	machine := m.machine
	return func() tea.Msg {
		turn, err := machine.Submit(context.Background(), question)
		return turnMsg{turn: turn, err: err}
	}
}

// Update handles key, window, and turn-completion events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, fh := transcriptStyle.GetFrameSize()
		_, qh := inputBoxStyle.GetFrameSize()
		reserved := 2 + qh + 1 // header + status + input frame + spacer
		vh := msg.Height - reserved - fh
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = maxInt(20, msg.Width)
		m.viewport.Height = vh
		m.viewport.SetContent(m.renderTranscript())
		m.viewport.GotoBottom()
		return m, nil

	case turnMsg:
		m.busy = false
		if msg.err != nil {
			m.status = errStyle.Render("Error: " + msg.err.Error())
		} else {
			m.status = "Rate this answer 1-5 (e.g. \"4 clear answer\"), Enter skips, or just ask on."
		}
		m.viewport.SetContent(m.renderTranscript())
		m.viewport.GotoBottom()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		if m.busy {
			return m, nil
		}
		switch msg.String() {
		case "enter":
			return m.handleEnter()
		case "ctrl+r":
			return m.handleReset()
		case "up":
			m.viewport.ScrollUp(1)
			return m, nil
		case "down":
			m.viewport.ScrollDown(1)
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleEnter interprets the input line. While feedback is pending a line
// that parses as a rating records it; anything else is the next question.
func (m Model) handleEnter() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())

	if m.machine.State() == conversation.StateAwaitingFeedback {
		if line == "" {
			_ = m.machine.SkipFeedback()
			m.status = "Feedback skipped."
			return m, nil
		}
		if rating, comment, ok := parseFeedback(line); ok {
			if _, err := m.machine.SubmitFeedback(context.Background(), rating, comment); err != nil {
				m.status = errStyle.Render("Error: " + err.Error())
			} else {
				m.status = fmt.Sprintf("Thanks - recorded %d/5.", rating)
			}
			m.input.Reset()
			return m, nil
		}
		// Not a rating: the user asked on, forfeiting the prompt.
	}

	if line == "" {
		return m, nil
	}
	m.input.Reset()
	m.busy = true
	m.status = "Searching the policy corpus..."
	return m, m.submitCmd(line)
}

// handleReset starts a fresh session, skipping a pending feedback prompt.
func (m Model) handleReset() (tea.Model, tea.Cmd) {
	if m.machine.State() == conversation.StateAwaitingFeedback {
		_ = m.machine.SkipFeedback()
	}
	if _, err := m.machine.Reset(); err != nil {
		m.status = errStyle.Render("Error: " + err.Error())
		return m, nil
	}
	m.replayed = nil
	m.status = "Session reset. Ask a new question."
	m.viewport.SetContent(m.renderTranscript())
	return m, nil
}

// View renders the chat layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("Policy Chat") +
		subtleStyle.Render("  session "+shortID(m.machine.SessionID()))
	transcript := transcriptStyle.Render(m.viewport.View())
	input := inputBoxStyle.Render(m.input.View())
	return header + "\n" + transcript + "\n" + input + "\n" + m.status
}

// renderTranscript formats replayed and live turns with their citations.
func (m Model) renderTranscript() string {
	turns := append(append([]conversation.Turn{}, m.replayed...), m.machine.Turns()...)
	if len(turns) == 0 {
		return subtleStyle.Render("No messages yet.")
	}

	var sb strings.Builder
	for i, turn := range turns {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(userStyle.Render("You: ") + turn.User + "\n\n")
		sb.WriteString(botStyle.Render("Assistant: ") + turn.Answer)
		if cites := renderCitations(turn); cites != "" {
			sb.WriteString("\n" + cites)
		}
		if turn.Feedback != nil {
			sb.WriteString("\n" + subtleStyle.Render(fmt.Sprintf("rated %d/5", turn.Feedback.Rating)))
		}
	}
	return sb.String()
}

// renderCitations formats a turn's citation list, one per line with the
// relevance score as a percentage.
func renderCitations(turn conversation.Turn) string {
	if len(turn.Citations) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(subtleStyle.Render("Sources:"))
	for _, doc := range turn.Citations {
		label := doc.Title
		if label == "" {
			label = doc.Source
		}
		line := fmt.Sprintf("\n  [%2.0f%%] %s", doc.Score*100, label)
		if doc.Page != "" {
			line += " (p. " + doc.Page + ")"
		}
		sb.WriteString(citeStyle.Render(line))
	}
	return sb.String()
}

// parseFeedback interprets a line as "<rating 1-5>[ comment]". Returns
// ok=false when the line does not start with a valid rating.
func parseFeedback(line string) (rating int, comment string, ok bool) {
	fields := strings.SplitN(strings.TrimSpace(line), " ", 2)
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 1 || n > 5 {
		return 0, "", false
	}
	if len(fields) == 2 {
		comment = strings.TrimSpace(fields[1])
	}
	return n, comment, true
}

// shortID abbreviates a session UUID for the header line.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	subtleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	botStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	citeStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
