// Command mcphub runs the MCP hub daemon and the CLI that manages it.
//
// Without a subcommand it starts the hub, aggregating the configured
// upstream MCP servers and republishing their tools on the configured
// listen address. The remaining subcommands talk to a running hub over
// its management API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is injected with -ldflags at build time.
var version = "v0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "mcphub",
		Short:   "MCP hub - aggregate MCP servers behind one endpoint",
		Long:    "mcphub connects to upstream MCP servers over stdio, SSE, streamable HTTP or OpenAPI and republishes their tools on scoped downstream endpoints.",
		Version: version,
		RunE:    runServe,
	}

	addServeFlags(rootCmd.Flags())

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hub daemon",
		RunE:  runServe,
	}
	addServeFlags(serveCmd.Flags())

	rootCmd.AddCommand(
		serveCmd,
		newStatusCmd(),
		newUpstreamsCmd(),
		newGroupsCmd(),
		newToolsCmd(),
		newToolCallsCmd(),
		newSessionsCmd(),
		newImportCmd(),
		newConfigCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
