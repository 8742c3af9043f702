package commands

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/edupolicy/policychat-go/internal/conversation"
	"github.com/edupolicy/policychat-go/internal/embedder"
	"github.com/edupolicy/policychat-go/internal/logging"
	"github.com/edupolicy/policychat-go/internal/tui"
)

// NewChatCmd constructs the `policychat chat` command, which runs the
// interactive terminal chat session.
func NewChatCmd() *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session in the terminal",
		Long: `Start an interactive terminal chat with the policy assistant.

Each answer shows the documents it cited with their relevance, and you can
rate answers 1-5 with an optional comment. Transcripts persist to the
history database unless POLICYCHAT_HISTORY_DB=disabled.

Examples:
  policychat chat
  policychat chat --session 2f1c0a4e-9d3b-4f6e-8a17-c5d2e0b9f441`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if err := bootstrapSecrets(ctx); err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			if err := embedder.ValidateRetrievalStack(log); err != nil {
				return fmt.Errorf("chat: %w", err)
			}

			pipeline, qs, err := buildRetrieval(ctx)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer func() { _ = qs.Close() }()

			policyAgent, err := buildAgent(ctx, pipeline)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}

			history, closeHistory := openHistory(log)
			defer closeHistory()

			var opts []conversation.Option
			if session != "" {
				opts = append(opts, conversation.WithSessionID(session))
			}
			if depth := envInt("POLICYCHAT_HISTORY_DEPTH", 0); depth > 0 {
				opts = append(opts, conversation.WithHistoryDepth(depth))
			}
			machine := conversation.New(policyAgent, history, opts...)

			var replayed []conversation.Turn
			if session != "" && history != nil {
				replayed, err = conversation.ReplayTranscript(ctx, history, session)
				if err != nil {
					return fmt.Errorf("chat: %w", err)
				}
			}

			program := tea.NewProgram(tui.New(machine, replayed...), tea.WithAltScreen())
			if _, err := program.Run(); err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "Resume an existing session by ID")

	return cmd
}
