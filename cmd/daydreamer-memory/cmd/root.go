// Package cmd provides the CLI commands for daydreamer-memory.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "daydreamer-memory",
	Short: "daydreamer-memory - MCP graph-memory gateway",
	Long: `daydreamer-memory exposes a graph-backed knowledge base over the
Model Context Protocol: entity/observation writes through a V6 append-only
pipeline, semantic search over 256-D embeddings, and OAuth 2.1 or static
bearer authentication, all served over the classic two-endpoint SSE
transport.

Configuration is environment-variable only (PORT, NEO4J_URI,
REQUIRE_AUTHENTICATION, OAUTH_*, RAILWAY_BEARER_TOKEN, ...); there is no
config file to pass.

Commands:
  serve       Start the gateway server
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
