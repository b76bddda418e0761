// Command redelk-agent installs and configures Filebeat on a C2 server or
// redirector so it ships logs to RedELK.
package main

import (
	"os"

	"redelk/internal/agent"
	"redelk/internal/app"
	"redelk/internal/executor"
	"redelk/internal/preflight"
	"redelk/internal/prompt"
	"redelk/internal/ui"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(app.Execute(newCommand()))
}

func newCommand() *cobra.Command {
	var (
		opts   app.Options
		preset agent.Config
		role   string
		yes    bool
		dryRun bool
	)

	cmd := app.NewRoot("redelk-agent", "Install the RedELK log shipping agent", &opts)
	cmd.Args = cobra.NoArgs
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		settings, logger, err := app.Setup(cmd, &opts, "agent")
		if err != nil {
			return err
		}
		if role != "" {
			if preset.Role, err = agent.ParseRole(role); err != nil {
				return err
			}
		}

		pr := prompt.Stdio()
		pr.AssumeDefaults = yes
		runner := executor.NewLocalRunner(logger, dryRun)
		in := &agent.Installer{
			Runner:     runner,
			Prompter:   pr,
			Printer:    ui.Stdout(),
			Logger:     logger,
			Checker:    &preflight.Checker{Runner: runner},
			Paths:      agent.DefaultPaths(),
			ElkVersion: settings.ElkVersion,
			DryRun:     dryRun,
		}
		return in.Run(cmd.Context(), preset)
	}

	f := cmd.Flags()
	f.StringVar(&role, "role", "", "agent type: c2 or redirector")
	f.StringVar(&preset.Server, "server", "", "RedELK server IP or hostname")
	f.IntVar(&preset.Port, "port", 0, "Logstash beats port (default 5044)")
	f.StringVar(&preset.Hostname, "hostname", "", "identifier of this host in RedELK")
	f.StringVar(&preset.AttackScenario, "scenario", "", "attack scenario name")
	f.StringSliceVar(&preset.Programs, "program", nil, "limit inputs to these programs")
	f.BoolVarP(&yes, "yes", "y", false, "accept defaults and do not prompt")
	f.BoolVar(&dryRun, "dry-run", false, "show what would be done without changing anything")
	return cmd
}
