package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/storage"
)

var (
	searchLimit     int
	callsUpstream   string
	callsTool       string
	callsStatus     string
	callsSessionID  string
	callsLimit      int
	callsOffset     int
	callsSinceHours int
)

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Explore the aggregated tool catalog",
	}

	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over all published tools",
		Long: `Search tool names, descriptions and parameters across every
connected upstream.

Examples:
  mcphub tools search "create issue"
  mcphub tools search weather --limit 5 --output=json`,
		Args: cobra.MinimumNArgs(1),
		RunE: runToolsSearch,
	}
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "Maximum results")

	addClientFlags(searchCmd.Flags())
	cmd.AddCommand(searchCmd)
	return cmd
}

func runToolsSearch(_ *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	results, err := client.Search(ctx, strings.Join(args, " "), searchLimit)
	if err != nil {
		return hubError(err)
	}

	headers := []string{"UPSTREAM", "TOOL", "SCORE", "DESCRIPTION"}
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		rows = append(rows, []string{
			res.UpstreamName,
			res.ToolName,
			strconv.FormatFloat(res.Score, 'f', 3, 64),
			truncateCell(res.Description, 70),
		})
	}
	return printTable(headers, rows)
}

func newToolCallsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tool-calls",
		Short: "Inspect the tool call history",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded tool calls, newest first",
		Long: `List recorded tool calls.

Examples:
  mcphub tool-calls list --upstream github --limit 20
  mcphub tool-calls list --status error --since-hours 24`,
		RunE: runToolCallsList,
	}
	listCmd.Flags().StringVar(&callsUpstream, "upstream", "", "Filter by upstream name")
	listCmd.Flags().StringVar(&callsTool, "tool", "", "Filter by tool name")
	listCmd.Flags().StringVar(&callsStatus, "status", "", "Filter by status (success, error)")
	listCmd.Flags().StringVar(&callsSessionID, "session", "", "Filter by session id")
	listCmd.Flags().IntVar(&callsLimit, "limit", 50, "Page size")
	listCmd.Flags().IntVar(&callsOffset, "offset", 0, "Page offset")
	listCmd.Flags().IntVar(&callsSinceHours, "since-hours", 0, "Only calls from the last N hours")

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one tool call with its stored response",
		Args:  cobra.ExactArgs(1),
		RunE:  runToolCallsGet,
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Per-tool usage counters",
		RunE:  runToolCallsStats,
	}

	for _, sub := range []*cobra.Command{listCmd, getCmd, statsCmd} {
		addClientFlags(sub.Flags())
		cmd.AddCommand(sub)
	}
	return cmd
}

func runToolCallsList(_ *cobra.Command, _ []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	filter := storage.ToolCallFilter{
		Upstream:  callsUpstream,
		Tool:      callsTool,
		Status:    callsStatus,
		SessionID: callsSessionID,
		Limit:     callsLimit,
		Offset:    callsOffset,
	}
	if callsSinceHours > 0 {
		filter.Since = time.Now().Add(-time.Duration(callsSinceHours) * time.Hour)
	}

	page, err := client.ListToolCalls(ctx, filter)
	if err != nil {
		return hubError(err)
	}

	headers := []string{"ID", "TIME", "UPSTREAM", "TOOL", "STATUS", "MS"}
	rows := make([][]string, 0, len(page.ToolCalls))
	for _, rec := range page.ToolCalls {
		rows = append(rows, []string{
			rec.ID,
			rec.Timestamp.Local().Format("2006-01-02 15:04:05"),
			rec.UpstreamName,
			rec.ToolName,
			rec.Status,
			strconv.FormatInt(rec.DurationMs, 10),
		})
	}
	if err := printTable(headers, rows); err != nil {
		return err
	}
	if page.Total > len(page.ToolCalls) {
		fmt.Printf("Showing %d of %d calls (use --offset to page)\n", len(page.ToolCalls), page.Total)
	}
	return nil
}

func runToolCallsGet(_ *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	record, err := client.GetToolCall(ctx, args[0])
	if err != nil {
		return hubError(err)
	}
	return printData(record)
}

func runToolCallsStats(_ *cobra.Command, _ []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	stats, err := client.ToolCallStats(ctx)
	if err != nil {
		return hubError(err)
	}

	headers := []string{"UPSTREAM", "TOOL", "CALLS", "LAST USED"}
	rows := make([][]string, 0, len(stats))
	for _, st := range stats {
		rows = append(rows, []string{
			st.UpstreamName,
			st.ToolName,
			strconv.FormatUint(st.Count, 10),
			st.LastUsed.Local().Format(time.RFC3339),
		})
	}
	return printTable(headers, rows)
}

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List live downstream sessions",
		RunE:  runSessionsList,
	}
	addClientFlags(cmd.Flags())
	return cmd
}

func runSessionsList(_ *cobra.Command, _ []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	sessions, err := client.ListSessions(ctx)
	if err != nil {
		return hubError(err)
	}

	headers := []string{"SESSION", "SCOPE", "PRINCIPAL", "CLIENT", "CREATED"}
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		clientName := s.ClientName
		if s.ClientVersion != "" {
			clientName += " " + s.ClientVersion
		}
		rows = append(rows, []string{
			s.SessionID,
			s.Scope.String(),
			s.PrincipalID,
			clientName,
			s.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	return printTable(headers, rows)
}
