package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show hub status",
		Long: `Show the running hub's version, upstream health and catalog size.

Examples:
  mcphub status
  mcphub status --output=json`,
		RunE: runStatus,
	}
	addClientFlags(cmd.Flags())
	return cmd
}

func runStatus(_ *cobra.Command, _ []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	status, err := client.Status(ctx)
	if err != nil {
		return hubError(err)
	}

	if outputFormat != "" && outputFormat != "table" || jsonOutput {
		return printData(status)
	}

	fmt.Printf("Hub %s listening on %s\n", status.Version, status.Listen)
	fmt.Printf("  Uptime:      %ds\n", status.UptimeSeconds)
	fmt.Printf("  Upstreams:   %d ready / %d configured\n", status.UpstreamsReady, len(status.Upstreams))
	fmt.Printf("  Tools:       %d (catalog v%d)\n", status.ToolsTotal, status.CatalogVersion)
	fmt.Printf("  Sessions:    %d across %d scope servers\n", status.Sessions, status.ScopeServers)
	fmt.Printf("  Smart route: %s\n", strconv.FormatBool(status.SmartRouting))
	if status.VectorStats != nil {
		fmt.Printf("  Vectors:     %d indexed (%s)\n", status.VectorStats.Rows, status.VectorStats.Model)
	}
	return nil
}
