package logs

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// SecretSanitizer wraps a zapcore.Core and masks secret material before it
// is written. Upstream configs carry auth headers and env tokens, and tool
// call arguments can echo them back, so every core in the hub goes through
// this wrapper.
type SecretSanitizer struct {
	zapcore.Core
	patterns []secretPattern
	resolved *sync.Map
}

type secretPattern struct {
	regex *regexp.Regexp
	mask  func(string) string
}

var defaultPatterns = []secretPattern{
	// GitHub tokens (ghp_, gho_, ghu_, ghs_, ghr_). The GitHub MCP server
	// is the most common stdio upstream and takes its token via env.
	{
		regex: regexp.MustCompile(`\b(gh[poushr]_[A-Za-z0-9]{36,255})\b`),
		mask: func(token string) string {
			return maskKeepingEnds(token, 7, 2)
		},
	},
	// OpenAI-style API keys, including the sk-ant- variants. The embedder
	// resolves one of these from env when smart routing uses a remote
	// provider.
	{
		regex: regexp.MustCompile(`\b(sk-[A-Za-z0-9\-]{20,})\b`),
		mask: func(key string) string {
			return maskKeepingEnds(key, 5, 2)
		},
	},
	// Bearer tokens inside header dumps.
	{
		regex: regexp.MustCompile(`\b(Bearer\s+[A-Za-z0-9\-\._~\+\/]+=*)\b`),
		mask: func(token string) string {
			parts := strings.SplitN(token, " ", 2)
			if len(parts) != 2 || len(parts[1]) <= 4 {
				return "Bearer ****"
			}
			return "Bearer " + maskKeepingEnds(parts[1], 4, 2)
		},
	},
	// JWTs: keep the header segment so the algorithm stays debuggable,
	// mask payload and signature.
	{
		regex: regexp.MustCompile(`\b(eyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+)\b`),
		mask: func(jwt string) string {
			parts := strings.Split(jwt, ".")
			if len(parts) != 3 || len(parts[2]) < 4 {
				return "****"
			}
			return parts[0] + ".***." + parts[2][len(parts[2])-4:]
		},
	},
}

// NewSecretSanitizer wraps core with the default masking patterns.
func NewSecretSanitizer(core zapcore.Core) *SecretSanitizer {
	return &SecretSanitizer{
		Core:     core,
		patterns: defaultPatterns,
		resolved: &sync.Map{},
	}
}

// RegisterResolvedSecret records a concrete secret value, such as an API key
// resolved from env at startup, so any occurrence of it is masked regardless
// of format. Values shorter than 8 characters are ignored because masking
// them would also mangle ordinary words.
func (s *SecretSanitizer) RegisterResolvedSecret(value string) {
	if len(value) < 8 {
		return
	}
	s.resolved.Store(value, struct{}{})
}

// UnregisterResolvedSecret removes a previously registered value.
func (s *SecretSanitizer) UnregisterResolvedSecret(value string) {
	s.resolved.Delete(value)
}

func (s *SecretSanitizer) sanitize(str string) string {
	result := str

	s.resolved.Range(func(key, _ interface{}) bool {
		secret, ok := key.(string)
		if !ok || secret == "" {
			return true
		}
		result = strings.ReplaceAll(result, secret, maskKeepingEnds(secret, 3, 2))
		return true
	})

	for _, p := range s.patterns {
		result = p.regex.ReplaceAllStringFunc(result, p.mask)
	}

	return result
}

func (s *SecretSanitizer) sanitizeField(field zapcore.Field) zapcore.Field {
	switch field.Type {
	case zapcore.StringType:
		field.String = s.sanitize(field.String)
	case zapcore.ByteStringType:
		if b, ok := field.Interface.([]byte); ok {
			field.Interface = []byte(s.sanitize(string(b)))
		}
	case zapcore.ErrorType:
		if err, ok := field.Interface.(error); ok {
			msg := s.sanitize(err.Error())
			if msg != err.Error() {
				field = zapcore.Field{Key: field.Key, Type: zapcore.StringType, String: msg}
			}
		}
	}
	return field
}

// Write sanitizes the entry message and fields before delegating.
func (s *SecretSanitizer) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = s.sanitize(entry.Message)

	sanitized := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		sanitized[i] = s.sanitizeField(field)
	}

	return s.Core.Write(entry, sanitized)
}

// With sanitizes the accumulated fields and returns a child core that shares
// the pattern set and the resolved-secret registry.
func (s *SecretSanitizer) With(fields []zapcore.Field) zapcore.Core {
	sanitized := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		sanitized[i] = s.sanitizeField(field)
	}
	return &SecretSanitizer{
		Core:     s.Core.With(sanitized),
		patterns: s.patterns,
		resolved: s.resolved,
	}
}

// Check routes the entry through this core so Write sees it.
func (s *SecretSanitizer) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(entry.Level) {
		return checked.AddCore(entry, s)
	}
	return checked
}

// maskKeepingEnds keeps the first head and last tail characters of value.
// Short values collapse to **** entirely.
func maskKeepingEnds(value string, head, tail int) string {
	if len(value) <= head+tail+1 {
		return "****"
	}
	return value[:head] + "***" + value[len(value)-tail:]
}
