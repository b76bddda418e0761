package health

import (
	"strings"

	"redelk/internal/stack"
	"redelk/internal/state"
)

// ResolveProfile maps the --profile flag to a service profile. "auto"
// uses the install type recorded in the state file and falls back to full.
func ResolveProfile(flag, statePath string) (stack.Profile, error) {
	if !strings.EqualFold(strings.TrimSpace(flag), "auto") {
		return stack.ParseProfile(flag)
	}
	st, err := state.Read(statePath)
	if err != nil || st == nil || st.InstallType == "" {
		return stack.Full, nil
	}
	p, err := stack.ParseProfile(st.InstallType)
	if err != nil {
		return stack.Full, nil
	}
	return p, nil
}
