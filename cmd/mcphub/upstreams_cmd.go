package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/cli/output"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

var (
	addKind     string
	addSpecURL  string
	addBaseURL  string
	addEnv      []string
	addHeaders  []string
	addDisabled bool
	logsTail    int
)

func newUpstreamsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upstreams",
		Short: "Manage upstream MCP servers",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List configured upstreams with connection status",
		RunE:  runUpstreamsList,
	}

	getCmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Show one upstream's spec and status",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpstreamsGet,
	}

	addCmd := &cobra.Command{
		Use:   "add <name> [url] [-- command args...]",
		Short: "Add an upstream MCP server",
		Long: `Add an upstream MCP server.

HTTP-based servers take a URL; the transport kind is inferred from the
path unless --kind is given. Stdio servers take a command after --.

Examples:
  mcphub upstreams add notion https://mcp.notion.example/sse
  mcphub upstreams add weather https://api.weather.example/mcp --header "Authorization: Bearer t0ken"
  mcphub upstreams add petstore --kind openapi --spec-url https://petstore.example/openapi.json
  mcphub upstreams add files -- npx -y @modelcontextprotocol/server-filesystem /srv/data`,
		Args: cobra.MinimumNArgs(1),
		RunE: runUpstreamsAdd,
	}
	addCmd.Flags().StringVar(&addKind, "kind", "", "Transport kind: stdio, sse, http-stream or openapi")
	addCmd.Flags().StringVar(&addSpecURL, "spec-url", "", "OpenAPI document URL (openapi kind)")
	addCmd.Flags().StringVar(&addBaseURL, "base-url", "", "API base URL override (openapi kind)")
	addCmd.Flags().StringArrayVar(&addEnv, "env", nil, "Environment variable KEY=VALUE (repeatable, stdio kind)")
	addCmd.Flags().StringArrayVar(&addHeaders, "header", nil, "HTTP header 'Name: value' (repeatable)")
	addCmd.Flags().BoolVar(&addDisabled, "disabled", false, "Add the upstream without connecting it")

	addJSONCmd := &cobra.Command{
		Use:   "add-json <name> <json>",
		Short: "Add an upstream from a JSON spec",
		Long: `Add an upstream MCP server from a raw JSON spec object.

Examples:
  mcphub upstreams add-json weather '{"kind":"http-stream","url":"https://api.weather.example/mcp"}'
  mcphub upstreams add-json sqlite '{"kind":"stdio","command":"uvx","args":["mcp-server-sqlite","--db","my.db"]}'`,
		Args: cobra.ExactArgs(2),
		RunE: runUpstreamsAddJSON,
	}

	removeCmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an upstream and its group references",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpstreamsRemove,
	}

	enableCmd := &cobra.Command{
		Use:   "enable <name>",
		Short: "Enable an upstream",
		Args:  cobra.ExactArgs(1),
		RunE:  func(_ *cobra.Command, args []string) error { return runUpstreamToggle(args[0], true) },
	}
	disableCmd := &cobra.Command{
		Use:   "disable <name>",
		Short: "Disable an upstream and drop its tools",
		Args:  cobra.ExactArgs(1),
		RunE:  func(_ *cobra.Command, args []string) error { return runUpstreamToggle(args[0], false) },
	}

	restartCmd := &cobra.Command{
		Use:   "restart <name>",
		Short: "Tear down and reconnect an upstream",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpstreamsRestart,
	}

	toolsCmd := &cobra.Command{
		Use:   "tools <name>",
		Short: "List the tools one upstream currently exposes",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpstreamsTools,
	}

	logsCmd := &cobra.Command{
		Use:   "logs <name>",
		Short: "Tail an upstream's log file on the hub",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpstreamsLogs,
	}
	logsCmd.Flags().IntVar(&logsTail, "tail", 100, "Number of log lines to fetch")

	for _, sub := range []*cobra.Command{listCmd, getCmd, addCmd, addJSONCmd, removeCmd, enableCmd, disableCmd, restartCmd, toolsCmd, logsCmd} {
		addClientFlags(sub.Flags())
		cmd.AddCommand(sub)
	}
	return cmd
}

func runUpstreamsList(_ *cobra.Command, _ []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	upstreams, err := client.ListUpstreams(ctx)
	if err != nil {
		return hubError(err)
	}

	headers := []string{"NAME", "KIND", "ENABLED", "STATE", "TOOLS", "ERROR"}
	rows := make([][]string, 0, len(upstreams))
	for _, u := range upstreams {
		state, tools, lastErr := "-", "-", ""
		if u.Status != nil {
			state = u.Status.State.String()
			tools = strconv.Itoa(u.Status.ToolCount)
			lastErr = u.Status.LastError
		}
		rows = append(rows, []string{
			u.Name, string(u.Kind), strconv.FormatBool(u.IsEnabled()), state, tools, lastErr,
		})
	}
	return printTable(headers, rows)
}

func runUpstreamsGet(_ *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	info, err := client.GetUpstream(ctx, args[0])
	if err != nil {
		return hubError(err)
	}
	return printData(info)
}

func runUpstreamsAdd(_ *cobra.Command, args []string) error {
	spec, err := upstreamSpecFromArgs(args)
	if err != nil {
		return output.FromError(err, output.ErrCodeInvalidInput)
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	info, err := client.AddUpstream(ctx, spec)
	if err != nil {
		return hubError(err)
	}
	fmt.Printf("Added upstream %q (%s)\n", info.Name, info.Kind)
	return nil
}

// upstreamSpecFromArgs builds a spec from "add" positionals and flags.
// Everything after -- becomes the stdio command line.
func upstreamSpecFromArgs(args []string) (*settings.UpstreamSpec, error) {
	spec := &settings.UpstreamSpec{Name: args[0]}

	rest := args[1:]
	if len(rest) > 0 && strings.HasPrefix(rest[0], "http") {
		spec.URL = rest[0]
		rest = rest[1:]
	}
	if len(rest) > 0 {
		spec.Command = rest[0]
		spec.Args = rest[1:]
	}

	switch {
	case addKind != "":
		spec.Kind = settings.UpstreamKind(addKind)
	case addSpecURL != "":
		spec.Kind = settings.KindOpenAPI
	case spec.Command != "":
		spec.Kind = settings.KindStdio
	case strings.Contains(spec.URL, "/sse"):
		spec.Kind = settings.KindSSE
	case spec.URL != "":
		spec.Kind = settings.KindStreamHTTP
	default:
		return nil, fmt.Errorf("upstream %q needs a url, a command after --, or --spec-url", spec.Name)
	}

	spec.SpecURL = addSpecURL
	spec.BaseURL = addBaseURL

	if len(addEnv) > 0 {
		spec.Env = make(map[string]string, len(addEnv))
		for _, kv := range addEnv {
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				return nil, fmt.Errorf("invalid --env %q, want KEY=VALUE", kv)
			}
			spec.Env[key] = value
		}
	}
	if len(addHeaders) > 0 {
		spec.Headers = make(map[string]string, len(addHeaders))
		for _, hv := range addHeaders {
			name, value, ok := strings.Cut(hv, ":")
			if !ok {
				return nil, fmt.Errorf("invalid --header %q, want 'Name: value'", hv)
			}
			spec.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}
	if addDisabled {
		disabled := false
		spec.Enabled = &disabled
	}
	return spec, nil
}

func runUpstreamsRemove(_ *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	if err := client.RemoveUpstream(ctx, args[0]); err != nil {
		return hubError(err)
	}
	fmt.Printf("Removed upstream %q\n", args[0])
	return nil
}

func runUpstreamToggle(name string, enable bool) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	if enable {
		err = client.EnableUpstream(ctx, name)
	} else {
		err = client.DisableUpstream(ctx, name)
	}
	if err != nil {
		return hubError(err)
	}
	if enable {
		fmt.Printf("Enabled upstream %q\n", name)
	} else {
		fmt.Printf("Disabled upstream %q\n", name)
	}
	return nil
}

func runUpstreamsRestart(_ *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	if err := client.RestartUpstream(ctx, args[0]); err != nil {
		return hubError(err)
	}
	fmt.Printf("Restarting upstream %q\n", args[0])
	return nil
}

func runUpstreamsTools(_ *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	tools, err := client.UpstreamTools(ctx, args[0])
	if err != nil {
		return hubError(err)
	}

	headers := []string{"TOOL", "ENABLED", "DESCRIPTION"}
	rows := make([][]string, 0, len(tools))
	for _, tool := range tools {
		rows = append(rows, []string{tool.ToolName, strconv.FormatBool(tool.Enabled), truncateCell(tool.Description, 80)})
	}
	return printTable(headers, rows)
}

func runUpstreamsLogs(_ *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	lines, err := client.UpstreamLogs(ctx, args[0], logsTail)
	if err != nil {
		return hubError(err)
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

func truncateCell(s string, limit int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func runUpstreamsAddJSON(_ *cobra.Command, args []string) error {
	var spec settings.UpstreamSpec
	if err := json.Unmarshal([]byte(args[1]), &spec); err != nil {
		return output.FromError(fmt.Errorf("invalid upstream JSON: %w", err), output.ErrCodeInvalidInput)
	}
	spec.Name = args[0]

	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	info, err := client.AddUpstream(ctx, &spec)
	if err != nil {
		return hubError(err)
	}
	fmt.Printf("Added upstream %q (%s)\n", info.Name, info.Kind)
	return nil
}
