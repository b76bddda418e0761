// Package executor runs the external tools the installers drive:
// apt-get, systemctl, openssl and docker compose. Every workflow step
// goes through a Runner so that dry-run mode and tests can swap the
// real subprocess out.
package executor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// DefaultTimeout bounds a single tool invocation when the caller sets none.
const DefaultTimeout = 10 * time.Minute

// Runner is the interface for running an external command.
type Runner interface {
	// Run executes cmd and waits for it. A non-zero exit status is
	// reported as an *ExitError alongside the captured Result.
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Command describes one tool invocation.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string // appended to the scrubbed parent environment
	Stdin   io.Reader
	Timeout time.Duration
}

// Cmd is a shorthand constructor.
func Cmd(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// String renders the command line for logs and dry-run output.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result is the captured outcome of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// ExitError reports a tool that ran but exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.ExitCode, msg)
}
