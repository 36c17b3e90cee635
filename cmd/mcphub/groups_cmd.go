package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

var (
	groupDescription string
	groupServers     []string
)

func newGroupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Manage upstream groups",
		Long:  "Groups bundle upstream servers behind one downstream scope, optionally restricted to named tools.",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List groups",
		RunE:  runGroupsList,
	}

	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a group",
		Long: `Create a group of upstream servers.

Examples:
  mcphub groups add dev-tools --server github --server files
  mcphub groups add reviews --description "code review tools" --server github`,
		Args: cobra.ExactArgs(1),
		RunE: runGroupsAdd,
	}
	addCmd.Flags().StringVar(&groupDescription, "description", "", "Group description")
	addCmd.Flags().StringArrayVar(&groupServers, "server", nil, "Upstream name to include (repeatable)")

	removeCmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a group",
		Args:  cobra.ExactArgs(1),
		RunE:  runGroupsRemove,
	}

	for _, sub := range []*cobra.Command{listCmd, addCmd, removeCmd} {
		addClientFlags(sub.Flags())
		cmd.AddCommand(sub)
	}
	return cmd
}

func runGroupsList(_ *cobra.Command, _ []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	groups, err := client.ListGroups(ctx)
	if err != nil {
		return hubError(err)
	}

	headers := []string{"ID", "NAME", "SERVERS", "DESCRIPTION"}
	rows := make([][]string, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, []string{g.ID, g.Name, strconv.Itoa(len(g.Servers)), truncateCell(g.Description, 60)})
	}
	return printTable(headers, rows)
}

func runGroupsAdd(_ *cobra.Command, args []string) error {
	group := &settings.Group{
		Name:        args[0],
		Description: groupDescription,
	}
	for _, name := range groupServers {
		group.Servers = append(group.Servers, &settings.GroupServer{UpstreamName: name})
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	created, err := client.AddGroup(ctx, group)
	if err != nil {
		return hubError(err)
	}
	fmt.Printf("Created group %q (%s)\n", created.Name, created.ID)
	return nil
}

func runGroupsRemove(_ *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	if err := client.RemoveGroup(ctx, args[0]); err != nil {
		return hubError(err)
	}
	fmt.Printf("Removed group %q\n", args[0])
	return nil
}
