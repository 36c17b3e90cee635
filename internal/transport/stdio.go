package transport

import (
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	uptransport "github.com/mark3labs/mcp-go/client/transport"
	"go.uber.org/zap"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

// newStdioConnection builds a child-process connection. The command is
// spawned directly with the merged environment; stderr becomes readable
// through Connection.Stderr once the client has started, and the
// supervisor pumps it into the upstream's log file.
func newStdioConnection(spec *settings.UpstreamSpec, opts *Options) (*Connection, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("upstream %q: no command specified for stdio transport", spec.Name)
	}

	env := opts.env().Build(spec.Env)

	opts.logger().Debug("creating stdio transport",
		zap.String("upstream", spec.Name),
		zap.String("command", spec.Command),
		zap.Strings("args", spec.Args),
		zap.Int("env_count", len(env)))

	stdio := uptransport.NewStdio(spec.Command, env, spec.Args...)

	return &Connection{
		Conn:  &mcpConn{client.NewClient(stdio)},
		Kind:  settings.KindStdio,
		stdio: stdio,
	}, nil
}
