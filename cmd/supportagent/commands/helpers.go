package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TonyKrueger/support-agent-one/internal/config"
	"github.com/TonyKrueger/support-agent-one/internal/embedder"
	"github.com/TonyKrueger/support-agent-one/internal/ratelimit"
	"github.com/TonyKrueger/support-agent-one/internal/storage"
)

// defaultDBPath returns the default SQLite path (~/.support-agent/support.db),
// creating the parent directory when missing.
func defaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("commands: resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".support-agent")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("commands: create data directory: %w", err)
	}
	return filepath.Join(dir, "support.db"), nil
}

// openGateway opens the document store. When QDRANT_HOST is set a Qdrant
// vector index is attached as a mirror and returned alongside the gateway
// so callers can probe it; otherwise the index is nil and searches scan
// SQLite. Closing the gateway releases both.
func openGateway(ctx context.Context, log *slog.Logger) (*storage.Gateway, *storage.QdrantIndex, error) {
	dbPath := os.Getenv("SUPPORT_AGENT_DB")
	if dbPath == "" {
		var err error
		dbPath, err = defaultDBPath()
		if err != nil {
			return nil, nil, err
		}
	}

	var qi *storage.QdrantIndex
	var index storage.VectorIndex
	if host := os.Getenv("QDRANT_HOST"); host != "" {
		backend := embedder.Backend()
		var err error
		qi, err = storage.NewQdrantIndex(ctx, &storage.QdrantConfig{
			Host:       host,
			Port:       config.Int("QDRANT_PORT", 6334),
			Collection: config.String("QDRANT_COLLECTION", "support-docs"),
			VectorSize: uint64(config.Int("EMBEDDING_DIMENSIONS", embedder.DefaultDimensions(backend))), //nolint:gosec // dimensions are bounded
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		})
		if err != nil {
			return nil, nil, fmt.Errorf("commands: connect to Qdrant at %s: %w", host, err)
		}
		index = qi
		log.Info("qdrant index attached",
			slog.String("host", host),
			slog.String("collection", config.String("QDRANT_COLLECTION", "support-docs")),
		)
	}

	gw, err := storage.Open(&storage.Options{Path: dbPath, Index: index, Logger: log})
	if err != nil {
		return nil, nil, fmt.Errorf("commands: open store: %w", err)
	}
	log.Info("store opened", slog.String("path", dbPath))
	return gw, qi, nil
}

// newEmbedClient builds the embedding client from the environment: the
// provider backend wrapped with content caching, admission limiting,
// batching, pacing, and retries.
func newEmbedClient(log *slog.Logger) (*embedder.Client, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, fmt.Errorf("commands: %w", err)
	}

	provider, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("commands: initialise embedder: %w", err)
	}
	log.Info("embedder initialised", slog.String("provider", embedder.Backend()))

	limiter := ratelimit.New(
		config.Int("RATE_LIMIT_MAX_REQUESTS", ratelimit.DefaultMaxRequests),
		config.Seconds("RATE_LIMIT_WINDOW_SECONDS", ratelimit.DefaultWindow),
	)

	return embedder.NewClient(&embedder.ClientConfig{
		Provider:          provider,
		Cache:             embedder.NewCache(config.Int("EMBED_CACHE_SIZE", embedder.DefaultCacheCap)),
		Limiter:           limiter,
		BatchSize:         config.Int("EMBED_BATCH_SIZE", embedder.DefaultBatchSize),
		Concurrency:       config.Int("EMBED_CONCURRENCY", embedder.DefaultConcurrency),
		MaxAttempts:       config.Int("EMBED_MAX_ATTEMPTS", embedder.DefaultMaxAttempts),
		RequestsPerSecond: config.Float("EMBED_REQUESTS_PER_SECOND", 0),
		Logger:            log,
	}), nil
}

// parseKeyValues converts repeated "key=value" flag values into a map.
func parseKeyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("commands: invalid key=value pair %q", p)
		}
		out[k] = v
	}
	return out, nil
}

// shortTime formats a timestamp for table output.
func shortTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04")
}
