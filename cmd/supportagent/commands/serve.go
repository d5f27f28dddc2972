package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TonyKrueger/support-agent-one/internal/config"
	"github.com/TonyKrueger/support-agent-one/internal/ingest"
	"github.com/TonyKrueger/support-agent-one/internal/logging"
	"github.com/TonyKrueger/support-agent-one/internal/search"
	"github.com/TonyKrueger/support-agent-one/internal/server"
)

// NewServeCmd constructs the `supportagent serve` command, which starts the
// HTTP server exposing the knowledge base API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the knowledge base HTTP server",
		Long: `Start the supportagent HTTP server.

The server exposes document ingestion, retrieval, and semantic search as a
REST API, plus /api/health, /api/ready, and Prometheus /metrics endpoints.
Set SUPPORT_AGENT_API_KEY to require Bearer authentication on the API routes.

Examples:
  supportagent serve
  supportagent serve --port 9090
  EMBEDDING_PROVIDER=openai supportagent serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("EMBEDDING_PROVIDER")))

			client, err := newEmbedClient(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			gw, qi, err := openGateway(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = gw.Close() }()

			pingers := []server.Pinger{server.NewStorePinger(gw)}
			if qi != nil {
				pingers = append(pingers, server.NewQdrantPinger(qi.Client()))
			}

			pipeline := ingest.New(&ingest.Config{
				Embedder:     client,
				Store:        gw,
				ChunkSize:    config.Int("CHUNK_SIZE", 0),
				ChunkOverlap: config.Int("CHUNK_OVERLAP", 0),
				Logger:       log,
			})

			svc := search.New(&search.Config{
				Embedder:      client,
				Store:         gw,
				Limit:         config.Int("SEARCH_LIMIT", 0),
				Threshold:     float32(config.Float("SEARCH_THRESHOLD", 0)),
				ContextWindow: config.Int("SEARCH_CONTEXT_WINDOW", 0),
				Logger:        log,
			})

			if host == "" {
				host = config.String("SERVER_HOST", "127.0.0.1")
			}
			if port == 0 {
				port = config.Int("SERVER_PORT", 8080)
			}

			srv, err := server.New(pipeline, svc, gw, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: pingers,
				APIKey:  os.Getenv("SUPPORT_AGENT_API_KEY"),
				CacheHitRate: func() float64 {
					return client.CacheStats().HitRate
				},
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (default: SERVER_HOST env or 127.0.0.1)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (default: SERVER_PORT env or 8080)")

	return cmd
}
