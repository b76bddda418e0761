package executor

import (
	"strings"
)

// envAllowlist contains variables passed through to the tools we run.
var envAllowlist = map[string]bool{
	"PATH":        true,
	"LANG":        true,
	"LANGUAGE":    true,
	"LC_ALL":      true,
	"TERM":        true,
	"HOME":        true,
	"USER":        true,
	"SHELL":       true,
	"TMPDIR":      true,
	"http_proxy":  true,
	"https_proxy": true,
	"no_proxy":    true,
	"HTTP_PROXY":  true,
	"HTTPS_PROXY": true,
	"NO_PROXY":    true,

	// The docker CLI must reach the same daemon as the SDK client.
	"DOCKER_HOST":       true,
	"DOCKER_TLS_VERIFY": true,
	"DOCKER_CERT_PATH":  true,
	"DOCKER_CONFIG":     true,
	"DOCKER_CONTEXT":    true,
	"XDG_RUNTIME_DIR":   true,
}

// envBlocklist wins over the allowlist.
var envBlocklist = map[string]bool{
	"LD_PRELOAD":      true,
	"LD_LIBRARY_PATH": true,
	"PYTHONPATH":      true,
}

// forcedEnv is always appended so package managers never stop to ask.
var forcedEnv = []string{
	"DEBIAN_FRONTEND=noninteractive",
}

// ScrubEnvironment filters the parent environment down to the allowlist
// and adds the variables every installer subprocess needs.
func ScrubEnvironment(env []string) []string {
	scrubbed := make([]string, 0, len(env)+len(forcedEnv))

	for _, entry := range env {
		key := envKey(entry)

		if envBlocklist[key] {
			continue
		}
		if envAllowlist[key] {
			scrubbed = append(scrubbed, entry)
		}
	}

	return append(scrubbed, forcedEnv...)
}

// envKey extracts the key from a "KEY=VALUE" environment entry.
func envKey(entry string) string {
	if idx := strings.IndexByte(entry, '='); idx >= 0 {
		return entry[:idx]
	}
	return entry
}
