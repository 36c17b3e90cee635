package transport

import (
	"os"
	"runtime"
	"sort"
	"strings"
)

// EnvConfig controls which parts of the hub's own environment leak into
// stdio child processes. The hub process typically holds API keys for many
// upstreams plus its own management key, so children get a safe allowlist
// rather than a full inherit.
type EnvConfig struct {
	InheritSystemSafe bool     `json:"inherit_system_safe"`
	AllowedSystemVars []string `json:"allowed_system_vars"`
}

// DefaultEnvConfig allows the variables a child process needs to behave
// normally (PATH, HOME, temp dirs, locale) and nothing secret.
func DefaultEnvConfig() *EnvConfig {
	allowed := []string{
		"PATH",
		"HOME",
		"TMPDIR",
		"TEMP",
		"TMP",
		"SHELL",
		"TERM",
		"LANG",
		"USER",
		"USERNAME",
		"LC_*",
	}

	if runtime.GOOS == "windows" {
		allowed = append(allowed,
			"USERPROFILE",
			"APPDATA",
			"LOCALAPPDATA",
			"PROGRAMFILES",
			"SYSTEMROOT",
			"COMSPEC",
		)
	} else {
		allowed = append(allowed,
			"XDG_CONFIG_HOME",
			"XDG_DATA_HOME",
			"XDG_CACHE_HOME",
			"XDG_RUNTIME_DIR",
		)
	}

	return &EnvConfig{
		InheritSystemSafe: true,
		AllowedSystemVars: allowed,
	}
}

// EnvBuilder assembles child environments from the safe system subset plus
// per-upstream variables from the spec.
type EnvBuilder struct {
	config *EnvConfig
}

// NewEnvBuilder returns a builder; nil config means DefaultEnvConfig.
func NewEnvBuilder(config *EnvConfig) *EnvBuilder {
	if config == nil {
		config = DefaultEnvConfig()
	}
	return &EnvBuilder{config: config}
}

// Build returns the environment for one child process. Spec variables win
// over inherited ones with the same key, and are appended in sorted order
// so the result is deterministic.
func (b *EnvBuilder) Build(specEnv map[string]string) []string {
	var env []string

	if b.config.InheritSystemSafe {
		for _, kv := range os.Environ() {
			if b.allowed(envKey(kv)) {
				env = append(env, kv)
			}
		}
	}

	keys := make([]string, 0, len(specEnv))
	for k := range specEnv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		kv := k + "=" + specEnv[k]
		if i := indexOfKey(env, k); i >= 0 {
			env[i] = kv
			continue
		}
		env = append(env, kv)
	}

	return env
}

// Allowed reports whether a system variable passes the allowlist.
func (b *EnvBuilder) Allowed(key string) bool {
	return b.allowed(key)
}

func (b *EnvBuilder) allowed(key string) bool {
	for _, pattern := range b.config.AllowedSystemVars {
		if strings.HasSuffix(pattern, "*") {
			if strings.HasPrefix(key, strings.TrimSuffix(pattern, "*")) {
				return true
			}
			continue
		}
		if strings.EqualFold(pattern, key) {
			return true
		}
	}
	return false
}

func envKey(kv string) string {
	if i := strings.IndexByte(kv, '='); i >= 0 {
		return kv[:i]
	}
	return kv
}

func indexOfKey(env []string, key string) int {
	prefix := key + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			return i
		}
	}
	return -1
}
