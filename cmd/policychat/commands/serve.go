package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/edupolicy/policychat-go/internal/embedder"
	"github.com/edupolicy/policychat-go/internal/logging"
	"github.com/edupolicy/policychat-go/internal/server"
	"github.com/edupolicy/policychat-go/internal/tracing"
)

// NewServeCmd constructs the `policychat serve` command, which starts the
// HTTP server exposing the conversational API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the policychat HTTP server",
		Long: `Start the policychat HTTP server on localhost.

The server exposes a JSON API for chat, feedback, session reset, and
transcript retrieval, plus health, readiness, and Prometheus metrics
endpoints. Protected routes require a Bearer token when POLICYCHAT_API_KEY
is set.

Examples:
  policychat serve
  policychat serve --port 9090
  MODEL_PROVIDER=openai policychat serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Langfuse tracing is opt-in, a no-op when keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			if err := bootstrapSecrets(ctx); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			if err := embedder.ValidateRetrievalStack(log); err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			pipeline, qs, err := buildRetrieval(ctx)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = qs.Close() }()
			log.Info("retrieval pipeline initialised", slog.String("collection", os.Getenv("QDRANT_COLLECTION")))

			policyAgent, err := buildAgent(ctx, pipeline)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			history, closeHistory := openHistory(log)
			defer closeHistory()

			srv, err := server.New(policyAgent, history, &server.Config{
				Host:         host,
				Port:         port,
				Logger:       log,
				Pingers:      buildPingers(qs, history),
				APIKey:       os.Getenv("POLICYCHAT_API_KEY"),
				HistoryDepth: envInt("POLICYCHAT_HISTORY_DEPTH", 0),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
