// Command redelk-health reports the health of the RedELK containers as a
// table, JSON or a Nagios-compatible line. The exit status is 0 when every
// service is healthy, 1 for a warning, 2 when critical and 3 when Docker
// cannot be reached.
package main

import (
	"errors"
	"fmt"
	"os"

	"redelk/internal/app"
	"redelk/internal/config"
	"redelk/internal/docker"
	"redelk/internal/health"
	"redelk/internal/layout"
	"redelk/internal/stack"
	"redelk/internal/ui"

	"github.com/spf13/cobra"
)

const exitUnknown = int(health.Unknown)

func main() {
	os.Exit(app.Execute(newCommand()))
}

func newCommand() *cobra.Command {
	var (
		opts     app.Options
		asJSON   bool
		nagios   bool
		textfile string
		profile  string
	)

	cmd := app.NewRoot("redelk-health", "Check the health of the RedELK services", &opts)
	cmd.Args = cobra.NoArgs
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if asJSON && nagios {
			return errors.New("--json and --nagios are mutually exclusive")
		}
		settings, logger, err := app.Setup(cmd, &opts, "health")
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		unknown := func(err error) error {
			switch {
			case nagios:
				fmt.Fprintln(out, health.NagiosUnknown(err))
				return app.WithCode(exitUnknown, nil)
			case asJSON:
				if werr := health.WriteUnknownJSON(out, err); werr != nil {
					return app.WithCode(exitUnknown, werr)
				}
				return app.WithCode(exitUnknown, nil)
			}
			return app.WithCode(exitUnknown, err)
		}

		l := layout.New(settings.BaseDir)
		p, err := health.ResolveProfile(profile, l.StateFile())
		if err != nil {
			return err
		}

		client, err := docker.NewFromEnv(logger)
		if err != nil {
			return unknown(err)
		}
		defer client.Close()

		checker := &health.Checker{
			Docker: client,
			Env:    config.NewEnvLoader(settings.BaseDir),
			Logger: logger,
		}
		results, err := checker.Run(cmd.Context(), stack.ForProfile(p, settings.ElkVersion))
		if err != nil {
			if errors.Is(err, health.ErrDockerUnavailable) {
				return unknown(err)
			}
			return err
		}

		if textfile != "" {
			if err := health.WriteTextfile(textfile, results); err != nil {
				logger.Warnf("prometheus textfile: %v", err)
			}
		}

		var summary health.Summary
		switch {
		case nagios:
			summary = health.Summarize(results)
			fmt.Fprintln(out, summary.Nagios())
		case asJSON:
			summary = health.Summarize(results)
			if err := health.WriteJSON(out, results); err != nil {
				return err
			}
		default:
			summary = health.WriteTable(ui.New(out), results)
		}
		if summary.Level == health.OK {
			return nil
		}
		return app.WithCode(int(summary.Level), nil)
	}

	f := cmd.Flags()
	f.BoolVar(&asJSON, "json", false, "print results as JSON")
	f.BoolVar(&nagios, "nagios", false, "print a single Nagios-compatible line")
	f.StringVar(&textfile, "prom-textfile", "", "also write Prometheus metrics to this file for the node exporter textfile collector")
	f.StringVar(&profile, "profile", "auto", "service profile: full, limited or auto (from the install state)")
	return cmd
}
