package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TonyKrueger/support-agent-one/internal/logging"
	"github.com/TonyKrueger/support-agent-one/internal/storage"
)

// NewDocumentsCmd constructs the `supportagent documents` command group for
// inspecting and removing stored documents.
func NewDocumentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "List, show, and delete stored documents",
	}

	cmd.AddCommand(
		newDocumentsListCmd(),
		newDocumentsShowCmd(),
		newDocumentsDeleteCmd(),
	)

	return cmd
}

func newDocumentsListCmd() *cobra.Command {
	var limit int
	var offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored documents, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			gw, _, err := openGateway(ctx, log)
			if err != nil {
				return fmt.Errorf("documents: %w", err)
			}
			defer func() { _ = gw.Close() }()

			docs, err := gw.ListDocuments(ctx, limit, offset)
			if err != nil {
				return fmt.Errorf("documents: %w", err)
			}
			if len(docs) == 0 {
				fmt.Println("no documents")
				return nil
			}

			for _, d := range docs {
				fmt.Printf("%s  v%-3d %s  %s\n", d.ID, d.Version, shortTime(d.CreatedAt), d.Title)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 50, "Maximum number of documents to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of documents to skip")

	return cmd
}

func newDocumentsShowCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show one document and its chunk count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			gw, _, err := openGateway(ctx, log)
			if err != nil {
				return fmt.Errorf("documents: %w", err)
			}
			defer func() { _ = gw.Close() }()

			doc, err := gw.GetDocument(ctx, args[0])
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("documents: no document with ID %s", args[0])
				}
				return fmt.Errorf("documents: %w", err)
			}

			chunks, err := gw.GetDocumentChunks(ctx, doc.ID)
			if err != nil {
				return fmt.Errorf("documents: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"document":    doc,
					"chunk_count": len(chunks),
				})
			}

			fmt.Printf("ID:       %s\n", doc.ID)
			fmt.Printf("Title:    %s\n", doc.Title)
			fmt.Printf("Version:  %d\n", doc.Version)
			fmt.Printf("Created:  %s\n", shortTime(doc.CreatedAt))
			fmt.Printf("Updated:  %s\n", shortTime(doc.UpdatedAt))
			fmt.Printf("Chunks:   %d\n", len(chunks))
			for k, v := range doc.Metadata {
				fmt.Printf("Meta:     %s=%s\n", k, v)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the document as JSON")

	return cmd
}

func newDocumentsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a document and all its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			gw, _, err := openGateway(ctx, log)
			if err != nil {
				return fmt.Errorf("documents: %w", err)
			}
			defer func() { _ = gw.Close() }()

			deleted, err := gw.DeleteDocument(ctx, args[0])
			if err != nil {
				return fmt.Errorf("documents: %w", err)
			}
			if !deleted {
				return fmt.Errorf("documents: no document with ID %s", args[0])
			}

			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}
