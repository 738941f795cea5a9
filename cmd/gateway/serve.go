package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mcpgateway/internal/app"
)

var (
	serveConfigPath string
	serveDebug      bool
)

// serveCmd starts the gateway: connects every configured backend,
// the upstream endpoint (if configured), and serves POST /mcp (plus
// stdio, when enabled) until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway and federate the configured backends",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "gateway.yaml", "path to the gateway's YAML configuration file")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "enable verbose logging")
}

func runServe(cmd *cobra.Command, _ []string) error {
	application, err := app.New(app.Config{ConfigPath: serveConfigPath, Debug: serveDebug})
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return application.Run(ctx)
}
