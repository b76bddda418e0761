// Command redelk-bundle packs the Filebeat templates and the CA into a
// deployment archive for C2 servers and redirectors, and self-tests such
// an archive.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"redelk/internal/agent"
	"redelk/internal/app"
	"redelk/internal/bundle"
	"redelk/internal/certs"
	"redelk/internal/layout"
	"redelk/internal/ui"
	"redelk/internal/version"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(app.Execute(newCommand()))
}

func newCommand() *cobra.Command {
	var opts app.Options
	cmd := app.NewRoot("redelk-bundle", "Create and verify RedELK agent deployment bundles", &opts)
	cmd.AddCommand(createCommand(&opts), verifyCommand(&opts))
	return cmd
}

func createCommand(opts *app.Options) *cobra.Command {
	var (
		output string
		server string
		port   int
		caCert string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Write a bundle with per-program Filebeat templates and the CA certificate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, logger, err := app.Setup(cmd, opts, "bundle")
			if err != nil {
				return err
			}
			if caCert == "" {
				caCert = filepath.Join(layout.New(settings.BaseDir).CertsDir(), certs.CACertFile)
			}

			m, withCA, err := bundle.Create(bundle.Options{
				Output:  output,
				CACert:  caCert,
				Server:  server,
				Port:    port,
				Version: version.Version,
			})
			if err != nil {
				return err
			}

			p := ui.New(cmd.OutOrStdout())
			if !withCA {
				p.Warn("CA certificate %s not found; agents will need it copied separately", caCert)
			}
			for _, e := range m.Files {
				logger.Debugf("%s %s", e.SHA256, e.Path)
			}
			p.Success("Wrote %s (%d files)", output, len(m.Files))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&output, "output", "o", "redelk-agents.tar.gz", "bundle file")
	f.StringVar(&server, "server", "", "RedELK server baked into the templates (default placeholder "+agent.PlaceholderServer+")")
	f.IntVar(&port, "port", agent.DefaultPort, "Logstash beats port")
	f.StringVar(&caCert, "ca", "", "CA certificate (default certs/redelkCA.crt)")
	return cmd
}

func verifyCommand(opts *app.Options) *cobra.Command {
	var timeout = bundle.DefaultVerifyTimeout
	cmd := &cobra.Command{
		Use:   "verify <bundle>",
		Short: "Self-test a bundle: checksums, required members and TLS settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := app.Setup(cmd, opts, "bundle"); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			report := bundle.Verify(ctx, args[0])
			report.Print(cmd.OutOrStdout())
			if !report.Passed() {
				return fmt.Errorf("bundle %s failed verification", args[0])
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", timeout, "upper bound for the self-test")
	return cmd
}
