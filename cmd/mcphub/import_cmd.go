package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/cli/output"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/cliclient"
)

var (
	importFormat   string
	importNames    []string
	importDisabled bool
	importDryRun   bool
)

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import upstreams from another MCP client's config",
		Long: `Import upstream servers from a Claude Desktop, Claude Code, Cursor,
Codex or Gemini configuration file. The format is detected from the
content unless --format is given. Existing upstream names are skipped.

Examples:
  mcphub import ~/Library/"Application Support"/Claude/claude_desktop_config.json
  mcphub import ~/.cursor/mcp.json --dry-run
  mcphub import ~/.codex/config.toml --format codex --name sqlite --name github`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}
	cmd.Flags().StringVar(&importFormat, "format", "", "Source format: claude_desktop, claude_code, cursor, codex, gemini")
	cmd.Flags().StringArrayVar(&importNames, "name", nil, "Only import the named servers (repeatable)")
	cmd.Flags().BoolVar(&importDisabled, "disabled", false, "Import servers disabled")
	cmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Report what would be imported without changing the hub")
	addClientFlags(cmd.Flags())
	return cmd
}

func runImport(_ *cobra.Command, args []string) error {
	content, err := os.ReadFile(args[0])
	if err != nil {
		return output.FromError(err, output.ErrCodeInvalidInput).
			WithGuidance("the config file must be readable on this machine")
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	result, err := client.Import(ctx, cliclient.ImportRequest{
		Content:  string(content),
		Format:   importFormat,
		Names:    importNames,
		Disabled: importDisabled,
		DryRun:   importDryRun,
	})
	if err != nil {
		return hubError(err)
	}

	verb := "Imported"
	if importDryRun {
		verb = "Would import"
	}
	fmt.Printf("%s %d of %d servers from %s config\n",
		verb, result.Summary.Imported, result.Summary.Total, result.FormatDisplayName)

	for _, imp := range result.Imported {
		name := imp.Spec.Name
		if imp.OriginalName != "" && imp.OriginalName != name {
			name = fmt.Sprintf("%s (was %s)", name, imp.OriginalName)
		}
		fmt.Printf("  + %s [%s]\n", name, imp.Spec.Kind)
		for _, warning := range imp.Warnings {
			fmt.Printf("    ! %s\n", warning)
		}
	}
	for _, skipped := range result.Skipped {
		fmt.Printf("  - %s skipped: %s\n", skipped.Name, skipped.Reason)
	}
	for _, failed := range result.Failed {
		fmt.Printf("  x %s failed: %s\n", failed.Name, failed.Error)
	}
	return nil
}
