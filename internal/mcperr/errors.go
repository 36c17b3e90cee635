// Package mcperr defines the hub's error taxonomy. Every failure that can
// reach a downstream client carries one of these kinds, so clients see a
// stable semantic code in the error message instead of guessing from prose.
package mcperr

import (
	"errors"
	"fmt"
)

// Kind is a stable, wire-visible error category.
type Kind string

const (
	// KindConfiguration marks rejected settings mutations. It is surfaced
	// to the mutator, never to downstream MCP clients.
	KindConfiguration Kind = "configuration_error"

	// KindUpstreamUnavailable marks calls against an upstream that is not
	// ready: still connecting, degraded, or gone from the config.
	KindUpstreamUnavailable Kind = "upstream_unavailable"

	// KindUpstreamTimeout marks a per-call deadline that elapsed before
	// the upstream answered.
	KindUpstreamTimeout Kind = "upstream_timeout"

	// KindUpstreamProtocol marks malformed MCP traffic from an upstream.
	// Occurrences count toward that upstream's degradation.
	KindUpstreamProtocol Kind = "upstream_protocol_error"

	// KindToolNotFound marks an effective name with no mapping in the
	// session's current view.
	KindToolNotFound Kind = "tool_not_found"

	// KindToolNotAllowed marks a tool that exists but is filtered out of
	// the caller's scope or principal view.
	KindToolNotAllowed Kind = "tool_not_allowed"

	// KindScopeNotFound marks a session opened against a group or
	// upstream that does not exist or is invisible to the principal.
	KindScopeNotFound Kind = "scope_not_found"

	// KindSessionNotFound marks requests on a stale session id.
	KindSessionNotFound Kind = "session_not_found"

	// KindUnauthorized marks a principal without permission for the
	// scope or management operation.
	KindUnauthorized Kind = "unauthorized"

	// KindEmbedderUnavailable marks search_tools failing because no
	// embedding provider is reachable. There is no lexical fallback.
	KindEmbedderUnavailable Kind = "embedder_unavailable"
)

// Error pairs a message with its kind and an optional cause.
type Error struct {
	kind Kind
	msg  string
	err  error
}

// New builds an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Newf builds an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to a cause. A nil cause returns nil so
// call sites can wrap unconditionally. The error interface return keeps
// that nil untyped.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: msg, err: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

// Error renders "<kind>: <message>" so the kind survives any transport that
// only carries strings. The cause is appended when present.
func (e *Error) Error() string {
	switch {
	case e.msg == "" && e.err != nil:
		return fmt.Sprintf("%s: %v", e.kind, e.err)
	case e.err != nil:
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.err)
	default:
		return fmt.Sprintf("%s: %s", e.kind, e.msg)
	}
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.err }

// Kind returns the error's category.
func (e *Error) Kind() Kind { return e.kind }

// Message returns the human-readable part without the kind prefix.
func (e *Error) Message() string {
	if e.msg == "" && e.err != nil {
		return e.err.Error()
	}
	return e.msg
}

// KindOf extracts the kind from anywhere in err's chain. Errors without a
// taxonomy kind report the empty Kind.
func KindOf(err error) Kind {
	var taxErr *Error
	if errors.As(err, &taxErr) {
		return taxErr.kind
	}
	return ""
}

// HasKind reports whether err carries the given kind anywhere in its chain.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
