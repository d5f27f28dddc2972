// Command supportagent is the entry point for the support knowledge base.
// It provides a CLI (via Cobra) for ingesting and searching support
// documents, and an HTTP server exposing the same operations as a REST API.
package main

import (
	"fmt"
	"os"

	"github.com/TonyKrueger/support-agent-one/cmd/supportagent/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
