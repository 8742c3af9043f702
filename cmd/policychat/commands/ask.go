package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edupolicy/policychat-go/internal/agent"
	"github.com/edupolicy/policychat-go/internal/embedder"
	"github.com/edupolicy/policychat-go/internal/logging"
)

// NewAskCmd constructs the `policychat ask` command, which answers a single
// question and prints the answer with its citations to stdout.
func NewAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question about federal student aid policy",
		Long: `Ask the policychat agent a single natural language question.

The agent searches the policy corpus, answers from what it finds, and lists
the documents it cited. One-shot: no session state is kept.

Examples:
  policychat ask "When does the FAFSA open for the 2026-27 award year?"
  policychat ask "What is the maximum Pell Grant award?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if err := bootstrapSecrets(ctx); err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			if err := embedder.ValidateRetrievalStack(log); err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			pipeline, qs, err := buildRetrieval(ctx)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = qs.Close() }()

			policyAgent, err := buildAgent(ctx, pipeline)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			question := strings.Join(args, " ")
			result, err := policyAgent.Run(ctx, question, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			fmt.Println(result.Output)

			if citations := agent.Citations(result.Steps); len(citations) > 0 {
				fmt.Println("\nSources:")
				for _, doc := range citations {
					label := doc.Title
					if label == "" {
						label = doc.Source
					}
					fmt.Printf("  [%2.0f%%] %s", doc.Score*100, label)
					if doc.Page != "" {
						fmt.Printf(" (p. %s)", doc.Page)
					}
					fmt.Println()
				}
			}
			return nil
		},
	}

	return cmd
}
