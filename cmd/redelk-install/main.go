// Command redelk-install sets up the RedELK server: pre-flight checks, a
// configuration wizard, certificates, secrets and the container stack.
package main

import (
	"os"
	"path/filepath"

	"redelk/internal/app"
	"redelk/internal/certs"
	"redelk/internal/docker"
	"redelk/internal/elastic"
	"redelk/internal/executor"
	"redelk/internal/layout"
	"redelk/internal/preflight"
	"redelk/internal/prompt"
	"redelk/internal/server"
	"redelk/internal/stack"
	"redelk/internal/ui"
	"redelk/internal/version"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(app.Execute(newCommand()))
}

func newCommand() *cobra.Command {
	var (
		opts         app.Options
		quickstart   bool
		dryRun       bool
		skipWarnings bool
		installType  string
		address      string
	)

	cmd := app.NewRoot("redelk-install", "Install the RedELK server", &opts)
	cmd.Long = "Installs RedELK on this host. Run as root from the RedELK checkout;\n" +
		"the full install needs 8 GB+ RAM, the limited install 4 GB+."
	cmd.Args = cobra.NoArgs
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		settings, logger, err := app.Setup(cmd, &opts, "installer")
		if err != nil {
			return err
		}

		preset := server.Config{ServerAddress: address}
		if installType != "" {
			p, err := stack.ParseProfile(installType)
			if err != nil {
				return err
			}
			preset.InstallType = p
		}

		runner := executor.NewLocalRunner(logger, dryRun)
		client, err := docker.NewFromEnv(logger)
		if err != nil {
			return err
		}
		defer client.Close()

		host := preflight.SystemHost{}
		l := layout.New(settings.BaseDir)
		in := &server.Installer{
			Runner:   runner,
			Docker:   client,
			Prompter: prompt.Stdio(),
			Printer:  ui.Stdout(),
			Logger:   logger,
			// Pre-flight probes are read-only and run even in dry-run mode.
			Checker:      &preflight.Checker{Runner: executor.NewLocalRunner(logger, false), Docker: client, Host: host},
			Host:         host,
			Layout:       l,
			ElkVersion:   settings.ElkVersion,
			Version:      version.Version,
			DryRun:       dryRun,
			SkipWarnings: skipWarnings,
			Quickstart:   quickstart,
		}
		in.NewTemplateStore = func(password string) (server.TemplateStore, error) {
			es, err := elastic.New(elastic.Config{
				Password: password,
				CACert:   filepath.Join(l.CertsDir(), certs.CACertFile),
				Logger:   logger,
			})
			if err != nil {
				return nil, err
			}
			return es, nil
		}
		return in.Run(cmd.Context(), preset)
	}

	f := cmd.Flags()
	f.BoolVar(&quickstart, "quickstart", false, "install with defaults, asking only for confirmation")
	f.BoolVar(&dryRun, "dry-run", false, "show what would be done without changing anything")
	f.BoolVar(&skipWarnings, "skip-warnings", false, "continue past pre-flight warnings without asking")
	f.StringVar(&installType, "type", "", "installation type: full or limited")
	f.StringVar(&address, "address", "", "server domain or IP")
	return cmd
}
