package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TonyKrueger/support-agent-one/internal/config"
	"github.com/TonyKrueger/support-agent-one/internal/logging"
	"github.com/TonyKrueger/support-agent-one/internal/search"
)

// NewSearchCmd constructs the `supportagent search` command, which embeds
// the query and prints the most similar stored chunks.
func NewSearchCmd() *cobra.Command {
	var limit int
	var threshold float32
	var includeContext bool
	var strategy string
	var filters []string

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the knowledge base",
		Long: `Run a semantic search over the stored support documents.

The query is embedded and compared against every stored chunk; results at
or above the similarity threshold are printed best-first. Use --context to
include the chunks surrounding each hit, and --filter to restrict results
to chunks whose metadata matches exactly.

Examples:
  supportagent search "how do I reset my password"
  supportagent search --limit 10 --threshold 0.5 "refund policy"
  supportagent search --filter category=billing --context "invoice charges"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			query := strings.Join(args, " ")

			filter, err := parseKeyValues(filters)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			client, err := newEmbedClient(log)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			gw, _, err := openGateway(ctx, log)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer func() { _ = gw.Close() }()

			svc := search.New(&search.Config{
				Embedder:      client,
				Store:         gw,
				Limit:         config.Int("SEARCH_LIMIT", 0),
				Threshold:     float32(config.Float("SEARCH_THRESHOLD", 0)),
				ContextWindow: config.Int("SEARCH_CONTEXT_WINDOW", 0),
				Logger:        log,
			})

			opts := search.Options{
				Limit:          limit,
				IncludeContext: includeContext,
				Filter:         filter,
			}
			if cmd.Flags().Changed("threshold") {
				opts.Threshold = &threshold
			}

			resp, err := svc.SearchByStrategy(ctx, query, strategy, opts)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			if resp.Degraded {
				fmt.Printf("note: %q search unavailable, showing semantic results\n\n", strategy)
			}
			if len(resp.Results) == 0 {
				fmt.Println("no results")
				return nil
			}

			printResults(resp.Results)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Maximum number of results (default: SEARCH_LIMIT env or 5)")
	cmd.Flags().Float32VarP(&threshold, "threshold", "s", 0, "Minimum similarity score 0..1 (default: SEARCH_THRESHOLD env or 0.7)")
	cmd.Flags().BoolVarP(&includeContext, "context", "c", false, "Include the chunks surrounding each result")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Search strategy: semantic, semantic_with_context, exact, hybrid (default: semantic)")
	cmd.Flags().StringArrayVarP(&filters, "filter", "f", nil, "Metadata filter as key=value (repeatable, all must match)")

	return cmd
}

// printResults writes search results to stdout, one block per chunk.
func printResults(results []search.Result) {
	for i, r := range results {
		if r.IsContext && r.ContextFor != nil {
			fmt.Printf("  [context %s chunk %d]\n", r.ContextPosition, *r.ContextFor)
		} else {
			fmt.Printf("%d. %s (similarity %.3f)\n", i+1, r.DocumentTitle, r.Similarity)
		}
		fmt.Printf("   document: %s  chunk: %d\n", r.DocumentID, r.ChunkIndex)
		for _, line := range strings.Split(strings.TrimSpace(r.Content), "\n") {
			fmt.Printf("   %s\n", line)
		}
		fmt.Println()
	}
}
