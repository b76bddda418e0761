// Package app holds what every redelk command shares: the root command
// with the common flags, settings and logger setup, interrupt handling
// and the mapping of errors onto process exit codes.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"redelk/internal/config"
	"redelk/internal/logging"
	"redelk/internal/version"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Exit codes shared by the commands.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitInterrupted = 130
)

// codeError carries an explicit exit code through cobra.
type codeError struct {
	code int
	err  error
}

func (e *codeError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *codeError) Unwrap() error { return e.err }

// WithCode makes ExitCode report code for err. A nil err still exits with
// code but prints nothing.
func WithCode(code int, err error) error {
	return &codeError{code: code, err: err}
}

// ExitCode maps an error returned by a command onto the process status.
func ExitCode(err error) int {
	var ce *codeError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &ce):
		return ce.code
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	}
	return ExitFailure
}

// Options are the common flags, bound to config.Load.
type Options struct {
	ConfigFile string
	BaseDir    string
	ElkVersion string
	Verbose    bool
	DockerHost string
}

// NewRoot builds a root command with the common persistent flags.
func NewRoot(use, short string, opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Version,
	}
	cmd.SetVersionTemplate(fmt.Sprintf("%s %s (Elastic Stack %s, %s/%s)\n",
		use, version.Version, version.ElkVersion, runtime.GOOS, runtime.GOARCH))

	f := cmd.PersistentFlags()
	f.StringVar(&opts.ConfigFile, "config", "", "configuration file (default ./redelk.yaml or /etc/redelk/redelk.yaml)")
	f.StringVar(&opts.BaseDir, "base-dir", config.BasePath(), "RedELK checkout directory (env REDELK_PATH)")
	f.StringVar(&opts.ElkVersion, "elk-version", version.ElkVersion, "Elastic Stack version")
	f.BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")
	f.StringVar(&opts.DockerHost, "docker-host", "", "Docker daemon address")
	return cmd
}

// Setup loads the layered settings for cmd and returns a logger for component.
func Setup(cmd *cobra.Command, opts *Options, component string) (config.Settings, *logrus.Entry, error) {
	s, err := config.Load(cmd, opts.ConfigFile)
	if err != nil {
		return s, nil, err
	}
	logger := logging.New(component, s.Verbose)
	logger.WithField("base_dir", s.BaseDir).Debug("settings loaded")
	return s, logger, nil
}

// Execute runs cmd until it finishes or the process is interrupted and
// returns the exit status. Errors are printed to stderr.
func Execute(cmd *cobra.Command) int {
	return run(cmd, os.Stderr)
}

func run(cmd *cobra.Command, stderr io.Writer) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := cmd.ExecuteContext(ctx)
	// A killed tool reports its own failure; the interrupt is what matters.
	if ctx.Err() != nil && !errors.Is(err, context.Canceled) {
		err = ctx.Err()
	}
	code := ExitCode(err)
	switch {
	case code == ExitInterrupted:
		fmt.Fprintln(stderr, "\nInterrupted.")
	case err != nil && err.Error() != "" && !silent(err):
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return code
}

func silent(err error) bool {
	var ce *codeError
	return errors.As(err, &ce) && ce.err == nil
}
