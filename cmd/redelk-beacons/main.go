// Command redelk-beacons inspects implant activity recorded in the rtops
// indices.
//
//	redelk-beacons list                 beacons seen within --since
//	redelk-beacons details <id>         latest state of one beacon
//	redelk-beacons commands <id> [n]    the n most recent commands (default 10)
//	redelk-beacons search <term>        records mentioning an indicator
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"redelk/internal/app"
	"redelk/internal/beacons"
	"redelk/internal/certs"
	"redelk/internal/config"
	"redelk/internal/elastic"
	"redelk/internal/layout"
	"redelk/internal/secrets"
	"redelk/internal/ui"

	"github.com/spf13/cobra"
)

const defaultCommands = 10

func main() {
	os.Exit(app.Execute(newCommand()))
}

type beaconOptions struct {
	app.Options
	url      string
	caCert   string
	insecure bool
	since    time.Duration
}

// manager connects to Elasticsearch with the password from the
// environment or elkserver/.env.
func (o *beaconOptions) manager(cmd *cobra.Command) (*beacons.Manager, error) {
	settings, logger, err := app.Setup(cmd, &o.Options, "beacons")
	if err != nil {
		return nil, err
	}
	env := config.NewEnvLoader(settings.BaseDir)
	password := env.Value(secrets.ElasticPassword, "")
	if password == "" {
		return nil, errors.New("ELASTIC_PASSWORD is not set in the environment or elkserver/.env")
	}

	ca := o.caCert
	if ca == "" && !o.insecure {
		if p := filepath.Join(layout.New(settings.BaseDir).CertsDir(), certs.CACertFile); layout.Exists(p) {
			ca = p
		} else {
			logger.Warnf("%s not found; not verifying the elasticsearch certificate", p)
		}
	}
	if o.insecure {
		ca = ""
	}

	es, err := elastic.New(elastic.Config{
		URL:      o.url,
		Password: password,
		CACert:   ca,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return &beacons.Manager{ES: es, Window: o.since}, nil
}

func newCommand() *cobra.Command {
	opts := &beaconOptions{}
	cmd := app.NewRoot("redelk-beacons", "Inspect beacons and operator commands recorded by RedELK", &opts.Options)
	f := cmd.PersistentFlags()
	f.StringVar(&opts.url, "es-url", elastic.DefaultURL, "Elasticsearch URL")
	f.StringVar(&opts.caCert, "ca-cert", "", "CA bundle for the Elasticsearch certificate (default certs/redelkCA.crt)")
	f.BoolVar(&opts.insecure, "insecure", false, "do not verify the Elasticsearch certificate")

	cmd.AddCommand(listCommand(opts), detailsCommand(opts), commandsCommand(opts), searchCommand(opts))
	return cmd
}

func listCommand(opts *beaconOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List beacons that checked in recently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.manager(cmd)
			if err != nil {
				return err
			}
			list, err := m.List(cmd.Context())
			if err != nil {
				return err
			}
			beacons.PrintList(ui.New(cmd.OutOrStdout()), list, m.Window)
			return nil
		},
	}
	cmd.Flags().DurationVar(&opts.since, "since", beacons.DefaultWindow, "how recently a beacon must have been seen")
	return cmd
}

func detailsCommand(opts *beaconOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "details <id>",
		Short: "Show the latest state of one beacon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.manager(cmd)
			if err != nil {
				return err
			}
			b, err := m.Details(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			beacons.PrintDetails(ui.New(cmd.OutOrStdout()), b)
			return nil
		},
	}
}

func commandsCommand(opts *beaconOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "commands <id> [n]",
		Short: "Show the most recent commands sent to a beacon",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit := defaultCommands
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil || n < 1 {
					return fmt.Errorf("invalid command count %q", args[1])
				}
				limit = n
			}
			m, err := opts.manager(cmd)
			if err != nil {
				return err
			}
			cmds, err := m.Commands(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			beacons.PrintCommands(ui.New(cmd.OutOrStdout()), args[0], cmds)
			return nil
		},
	}
}

func searchCommand(opts *beaconOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Find records mentioning a host, user, address or hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.manager(cmd)
			if err != nil {
				return err
			}
			matches, err := m.Search(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			beacons.PrintMatches(ui.New(cmd.OutOrStdout()), args[0], matches)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of records")
	return cmd
}
