// Package commands defines all Cobra CLI commands for the supportagent binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/TonyKrueger/support-agent-one/internal/audit"
	"github.com/TonyKrueger/support-agent-one/internal/config"
	"github.com/TonyKrueger/support-agent-one/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "supportagent",
		Short: "Support knowledge base with semantic search",
		Long: `supportagent manages a local support knowledge base.

Documents are chunked, embedded, and stored in SQLite (optionally mirrored
to a Qdrant vector index). Searches embed the query and rank stored chunks
by cosine similarity, with metadata filtering and surrounding-context
expansion.

The embedding backend is selected via the EMBEDDING_PROVIDER environment
variable or a YAML config file (~/.support-agent/config.yaml).
See 'supportagent --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
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

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.support-agent/config.yaml)")

	root.AddCommand(
		NewIngestCmd(),
		NewSearchCmd(),
		NewDocumentsCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
