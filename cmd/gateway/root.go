// Package main is the gateway's CLI entrypoint (SPEC_FULL.md §10).
// Grounded on giantswarm-muster's cmd/root.go (a cobra root command
// with version flag and subcommands registered via init()), scaled
// down to this gateway's two subcommands instead of muster's full
// service/workflow/auth command tree.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is overwritten at build time via -ldflags, mirroring
// giantswarm-muster's cmd.SetVersion mechanism.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "mcpgateway",
	Short: "An MCP aggregating gateway",
	Long: `mcpgateway federates a set of backend MCP tool-providing services
into one unified tool catalogue and proxies it to upstream consumers,
including a persistent WebSocket-connected endpoint.`,
	SilenceUsage: true,
	Version:      version,
}

func main() {
	rootCmd.SetVersionTemplate("mcpgateway version {{.Version}}\n")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
}
