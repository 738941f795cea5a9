package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"mcpgateway/internal/app"
)

var (
	statusConfigPath string
	statusTimeout    time.Duration
)

// statusCmd connects every configured backend long enough to capture
// one connection-state snapshot, prints it as a table, then
// disconnects again (SPEC_FULL.md §10 "CLI").
//
// Grounded on giantswarm-muster's cmd/get.go table-rendering pattern:
// a go-pretty/v6/table.Writer with a colored header row and one row
// per result.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Connect to every configured backend and print its connection state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusConfigPath, "config", "gateway.yaml", "path to the gateway's YAML configuration file")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 15*time.Second, "how long to wait for backends to connect before reporting")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	application, err := app.New(app.Config{ConfigPath: statusConfigPath})
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
	defer cancel()

	rows, err := application.Probe(ctx)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("SERVICE"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("STATE"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("TOOLS"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("RECONNECTS"),
		text.Colors{text.FgHiBlue, text.Bold}.Sprint("LAST ERROR"),
	})
	for _, row := range rows {
		t.AppendRow(table.Row{row.Name, stateColor(row.State), row.ToolCount, row.ReconnectAttempts, row.LastError})
	}
	t.Render()
	return nil
}

func stateColor(state string) string {
	switch state {
	case "Connected":
		return text.Colors{text.FgHiGreen}.Sprint(state)
	case "Failed":
		return text.Colors{text.FgHiRed}.Sprint(state)
	case "Reconnecting", "Connecting":
		return text.Colors{text.FgHiYellow}.Sprint(state)
	default:
		return state
	}
}
