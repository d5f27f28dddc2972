package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TonyKrueger/support-agent-one/internal/config"
	"github.com/TonyKrueger/support-agent-one/internal/ingest"
	"github.com/TonyKrueger/support-agent-one/internal/logging"
)

// NewIngestCmd constructs the `supportagent ingest` command, which chunks,
// embeds, and stores a document in the knowledge base.
func NewIngestCmd() *cobra.Command {
	var title string
	var contentType string
	var strategy string
	var metadata []string
	var chunkSize int
	var chunkOverlap int

	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Ingest a document into the knowledge base",
		Long: `Chunk, embed, and store a support document.

The document content is read from the given file, or from stdin when the
argument is "-" or omitted. HTML content is stripped to plain text before
chunking (pass --content-type html or use an .html file).

Examples:
  supportagent ingest --title "Billing FAQ" docs/billing-faq.md
  cat refund-policy.txt | supportagent ingest --title "Refund Policy" --metadata category=billing
  supportagent ingest --title "Reset Guide" --content-type html exported/reset.html`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if strings.TrimSpace(title) == "" {
				return fmt.Errorf("ingest: --title is required")
			}

			content, source, err := readContent(args)
			if err != nil {
				return err
			}
			if contentType == "" {
				contentType = inferContentType(source)
			}

			meta, err := parseKeyValues(metadata)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			client, err := newEmbedClient(log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			gw, _, err := openGateway(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = gw.Close() }()

			pipeline := ingest.New(&ingest.Config{
				Embedder:     client,
				Store:        gw,
				ChunkSize:    config.Int("CHUNK_SIZE", 0),
				ChunkOverlap: config.Int("CHUNK_OVERLAP", 0),
				Logger:       log,
			})

			res, err := pipeline.Ingest(ctx, &ingest.Request{
				Title:        title,
				Content:      content,
				ContentType:  contentType,
				Metadata:     meta,
				ChunkSize:    chunkSize,
				ChunkOverlap: chunkOverlap,
				Strategy:     strategy,
			})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			stats := client.CacheStats()
			log.Debug("embed cache",
				slog.Int("entries", stats.Entries),
				slog.Uint64("hits", stats.Hits),
				slog.Uint64("misses", stats.Misses),
			)

			fmt.Printf("ingested %q as %s (%d chunks)\n", res.Document.Title, res.Document.ID, res.ChunkCount)
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Document title (required)")
	cmd.Flags().StringVar(&contentType, "content-type", "", "Content format: text, markdown, html (default: inferred from file extension)")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Chunking strategy: simple, paragraph, sentence, markdown (default: by content type)")
	cmd.Flags().StringArrayVarP(&metadata, "metadata", "m", nil, "Document metadata as key=value (repeatable)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Maximum characters per chunk (default: CHUNK_SIZE env or 1000)")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", 0, "Characters of overlap between chunks (default: CHUNK_OVERLAP env or 200)")

	return cmd
}

// readContent loads the document body from the file argument or stdin.
// Returns the content and the source name used for type inference.
func readContent(args []string) (string, string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", "", fmt.Errorf("ingest: read stdin: %w", err)
		}
		return string(data), "", nil
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", "", fmt.Errorf("ingest: read %s: %w", args[0], err)
	}
	return string(data), args[0], nil
}

// inferContentType maps a file extension to a content type hint.
func inferContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return "html"
	case ".md", ".markdown":
		return "markdown"
	default:
		return "text"
	}
}
