// Command redelk-route applies and renders the RedELK event routing rules.
//
//	redelk-route classify [file...]   print the target index of each NDJSON record
//	redelk-route render --out dir     write the Logstash routing stages
//	redelk-route rules                show the effective rules
package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"redelk/internal/app"
	"redelk/internal/layout"
	"redelk/internal/routing"
	"redelk/internal/ui"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	os.Exit(app.Execute(newCommand()))
}

type routeOptions struct {
	app.Options
	rulesFile string
}

// loadRules reads --rules, then the checkout's routing.yml, then falls
// back to the built-in rules.
func (o *routeOptions) loadRules(base string, logger *logrus.Entry) (*routing.RuleSet, error) {
	path := o.rulesFile
	if path == "" {
		if p := layout.New(base).RoutingRulesFile(); layout.Exists(p) {
			path = p
		}
	}
	if path == "" {
		logger.Debug("using built-in routing rules")
		return routing.DefaultRules(), nil
	}
	logger.Debugf("using routing rules from %s", path)
	return routing.LoadRules(path)
}

func newCommand() *cobra.Command {
	opts := &routeOptions{}
	cmd := app.NewRoot("redelk-route", "Classify events and render the RedELK routing pipeline", &opts.Options)
	cmd.PersistentFlags().StringVar(&opts.rulesFile, "rules", "", "routing rules file (default elkserver/mounts/logstash-config/routing.yml when present)")

	cmd.AddCommand(classifyCommand(opts), renderCommand(opts), rulesCommand(opts))
	return cmd
}

func classifyCommand(opts *routeOptions) *cobra.Command {
	var annotate bool
	cmd := &cobra.Command{
		Use:   "classify [file...]",
		Short: "Print the target index of every NDJSON record (stdin when no file is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, logger, err := app.Setup(cmd, &opts.Options, "routing")
			if err != nil {
				return err
			}
			rs, err := opts.loadRules(settings.BaseDir, logger)
			if err != nil {
				return err
			}

			var in io.Reader = cmd.InOrStdin()
			if len(args) > 0 {
				readers := make([]io.Reader, 0, len(args))
				for _, name := range args {
					f, err := os.Open(name)
					if err != nil {
						return fmt.Errorf("open records: %w", err)
					}
					defer f.Close()
					readers = append(readers, f)
				}
				in = io.MultiReader(readers...)
			}

			stats, err := rs.ClassifyStream(in, cmd.OutOrStdout(), routing.StreamOptions{Annotate: annotate})
			if err != nil {
				return err
			}
			indices := make([]string, 0, len(stats.ByIndex))
			for idx := range stats.ByIndex {
				indices = append(indices, idx)
			}
			sort.Strings(indices)
			for _, idx := range indices {
				logger.Debugf("%s: %d", idx, stats.ByIndex[idx])
			}
			if stats.Skipped > 0 {
				logger.Warnf("skipped %d lines that are not JSON objects", stats.Skipped)
			}
			logger.Infof("classified %d records", stats.Records)
			return nil
		},
	}
	cmd.Flags().BoolVar(&annotate, "annotate", false, "write each record back with @metadata.target_index set")
	return cmd
}

func renderCommand(opts *routeOptions) *cobra.Command {
	var (
		out  string
		dict string
		ca   string
		es   []string
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Write the Logstash threat detection, target index and output stages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, logger, err := app.Setup(cmd, &opts.Options, "routing")
			if err != nil {
				return err
			}
			rs, err := opts.loadRules(settings.BaseDir, logger)
			if err != nil {
				return err
			}
			if out == "" {
				out = layout.New(settings.BaseDir).LogstashConfDir()
			}
			files, err := routing.WriteLogstashConfig(out, rs, routing.OutputConfig{Hosts: es, CACert: ca}, dict)
			if err != nil {
				return err
			}
			p := ui.New(cmd.OutOrStdout())
			for _, f := range files {
				p.Success("%s", f)
			}
			return nil
		},
	}
	def := routing.DefaultOutputConfig()
	f := cmd.Flags()
	f.StringVar(&out, "out", "", "output directory (default the Logstash conf.d mount)")
	f.StringVar(&dict, "dictionary", routing.DefaultThreatDictionary, "threat-feed dictionary path inside the Logstash container")
	f.StringVar(&ca, "ca", def.CACert, "CA certificate Logstash uses to reach Elasticsearch")
	f.StringSliceVar(&es, "es-host", def.Hosts, "Elasticsearch hosts")
	return cmd
}

func rulesCommand(opts *routeOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Show the effective routing rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, logger, err := app.Setup(cmd, &opts.Options, "routing")
			if err != nil {
				return err
			}
			rs, err := opts.loadRules(settings.BaseDir, logger)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(rs.Rules)+1)
			for _, r := range rs.Rules {
				rows = append(rows, []string{r.Name, r.Field, strings.Join(r.Values, ", "), r.Index + "-<date>"})
			}
			rows = append(rows, []string{"(unmatched)", rs.Field, "*", rs.DefaultIndex + "-<date>"})

			p := ui.New(cmd.OutOrStdout())
			p.Table([]string{"Rule", "Field", "Values", "Destination"}, rows)
			p.Subtle("Date format: %s", rs.DateFormat)
			p.Subtle("Destinations: %s", strings.Join(rs.Indices(), ", "))
			return nil
		},
	}
}
