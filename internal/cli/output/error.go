package output

// StructuredError is a CLI error with a stable machine-readable code and
// optional recovery hints.
type StructuredError struct {
	Code    string `json:"code" yaml:"code"`
	Message string `json:"message" yaml:"message"`

	// Guidance explains why the error happened.
	Guidance string `json:"guidance,omitempty" yaml:"guidance,omitempty"`

	// RecoveryCommand suggests a command that may fix it.
	RecoveryCommand string `json:"recovery_command,omitempty" yaml:"recovery_command,omitempty"`

	Context map[string]any `json:"context,omitempty" yaml:"context,omitempty"`
}

func (e StructuredError) Error() string {
	return e.Message
}

// Error codes shared by all CLI commands.
const (
	ErrCodeHubNotRunning    = "HUB_NOT_RUNNING"
	ErrCodeUpstreamNotFound = "UPSTREAM_NOT_FOUND"
	ErrCodeGroupNotFound    = "GROUP_NOT_FOUND"
	ErrCodeAuthRequired     = "AUTH_REQUIRED"
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeInvalidFormat    = "INVALID_OUTPUT_FORMAT"
	ErrCodeOperationFailed  = "OPERATION_FAILED"
)

// NewError creates a StructuredError with a code and message.
func NewError(code, message string) StructuredError {
	return StructuredError{Code: code, Message: message}
}

// WithGuidance returns a copy with guidance attached.
func (e StructuredError) WithGuidance(guidance string) StructuredError {
	e.Guidance = guidance
	return e
}

// WithRecoveryCommand returns a copy suggesting a follow-up command.
func (e StructuredError) WithRecoveryCommand(cmd string) StructuredError {
	e.RecoveryCommand = cmd
	return e
}

// WithContext returns a copy with one context entry added.
func (e StructuredError) WithContext(key string, value any) StructuredError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// FromError wraps a plain error, preserving an existing StructuredError.
func FromError(err error, code string) StructuredError {
	if se, ok := err.(StructuredError); ok {
		return se
	}
	return StructuredError{Code: code, Message: err.Error()}
}
