// Package commands defines all Cobra CLI commands for the policychat binary.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/edupolicy/policychat-go/internal/audit"
	"github.com/edupolicy/policychat-go/internal/config"
	"github.com/edupolicy/policychat-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "policychat",
		Short: "Grounded Q&A assistant for federal student aid and education policy",
		Long: `policychat answers natural language questions about federal student aid
and education policy, grounded in a curated document corpus.

Every answer is produced by an LLM agent that searches the corpus through a
vector index and cites the documents it relied on. Questions the corpus does
not cover are answered with an explicit "not found" rather than a guess.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.policychat/config.yaml).
See 'policychat --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A local .env is a development convenience; absence is fine.
			_ = godotenv.Load()

			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.policychat/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewChatCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
