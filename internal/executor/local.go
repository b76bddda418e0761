package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
)

// LocalRunner runs commands directly on the host.
type LocalRunner struct {
	logger *logrus.Entry
	dryRun bool
}

// NewLocalRunner creates a host command runner. In dry-run mode commands
// are logged and reported as successful without being started.
func NewLocalRunner(logger *logrus.Entry, dryRun bool) *LocalRunner {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LocalRunner{logger: logger, dryRun: dryRun}
}

// Run executes the command and captures its output.
func (lr *LocalRunner) Run(ctx context.Context, c Command) (*Result, error) {
	if lr.dryRun {
		lr.logger.Infof("dry-run: %s", c)
		return &Result{}, nil
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	lr.logger.Debugf("exec: %s", c)

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(ScrubEnvironment(os.Environ()), c.Env...)
	cmd.Stdin = c.Stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return res, fmt.Errorf("%s: %w", c.Name, ctx.Err())
		}
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return res, fmt.Errorf("%s: timed out after %s", c.Name, timeout)
			}
			return res, &ExitError{Command: c.String(), ExitCode: res.ExitCode, Stderr: res.Stderr}
		case errors.Is(err, exec.ErrNotFound):
			return res, fmt.Errorf("%s not installed: %w", c.Name, err)
		default:
			return res, fmt.Errorf("run %s: %w", c.Name, err)
		}
	}

	lr.logger.Debugf("exec done: %s (%s)", c.Name, res.Duration.Round(time.Millisecond))
	return res, nil
}

// Available reports whether name resolves on PATH.
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
