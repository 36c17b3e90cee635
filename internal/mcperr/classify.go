package mcperr

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ClassifyUpstream sorts a raw transport or client error into the taxonomy.
// Errors that already carry a kind keep it; everything else is matched on
// well-known substrings, the way failures actually present themselves from
// child processes and HTTP clients.
func ClassifyUpstream(err error) Kind {
	if err == nil {
		return ""
	}
	if kind := KindOf(err); kind != "" {
		return kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindUpstreamTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindUpstreamTimeout
	}

	msg := err.Error()
	switch {
	case containsAny(msg, []string{
		"timeout", "timed out", "deadline exceeded",
	}):
		return KindUpstreamTimeout
	case containsAny(msg, []string{
		"invalid character", "unexpected end of json", "cannot unmarshal",
		"invalid json-rpc", "unexpected message", "parse error",
	}):
		return KindUpstreamProtocol
	default:
		// Connection refused, broken pipe, EOF, process exits and every
		// other transport failure mean the upstream cannot serve calls.
		return KindUpstreamUnavailable
	}
}

// UpstreamError wraps a raw failure from an upstream call with its
// classified kind and the upstream's name.
func UpstreamError(upstreamName string, err error) error {
	if err == nil {
		return nil
	}
	return Wrapf(ClassifyUpstream(err), err, "upstream %q", upstreamName)
}

func containsAny(s string, substrings []string) bool {
	lower := strings.ToLower(s)
	for _, substr := range substrings {
		if strings.Contains(lower, substr) {
			return true
		}
	}
	return false
}
