package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/cli/output"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and update the hub settings",
	}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Show the running settings (secrets redacted)",
		RunE:  runConfigGet,
	}

	applyCmd := &cobra.Command{
		Use:   "apply <file>",
		Short: "Replace the hub settings with a local file",
		Long: `Validate and apply a settings document. The hub diffs it against the
running settings and reconnects only the upstreams that changed.`,
		Args: cobra.ExactArgs(1),
		RunE: runConfigApply,
	}

	reloadCmd := &cobra.Command{
		Use:   "reload",
		Short: "Re-read the settings file on the hub host",
		RunE:  runConfigReload,
	}

	for _, sub := range []*cobra.Command{getCmd, applyCmd, reloadCmd} {
		addClientFlags(sub.Flags())
		cmd.AddCommand(sub)
	}
	return cmd
}

func runConfigGet(_ *cobra.Command, _ []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	view, err := client.GetConfig(ctx)
	if err != nil {
		return hubError(err)
	}
	return printData(view)
}

func runConfigApply(_ *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return output.FromError(err, output.ErrCodeInvalidInput)
	}
	var cfg settings.Settings
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return output.FromError(fmt.Errorf("invalid settings document: %w", err), output.ErrCodeInvalidInput)
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	changed, err := client.ApplyConfig(ctx, &cfg)
	if err != nil {
		return hubError(err)
	}
	if changed {
		fmt.Println("Settings applied, hub reconfiguring")
	} else {
		fmt.Println("Settings applied, no changes")
	}
	return nil
}

func runConfigReload(_ *cobra.Command, _ []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	changed, err := client.ReloadConfig(ctx)
	if err != nil {
		return hubError(err)
	}
	if changed {
		fmt.Println("Settings reloaded from file, hub reconfiguring")
	} else {
		fmt.Println("Settings reloaded, no changes")
	}
	return nil
}
