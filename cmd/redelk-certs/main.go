// Command redelk-certs generates the RedELK CA and the Logstash server
// certificate and copies them where the stack and the agents expect them.
package main

import (
	"fmt"
	"os"

	"redelk/internal/app"
	"redelk/internal/certs"
	"redelk/internal/executor"
	"redelk/internal/layout"
	"redelk/internal/prompt"
	"redelk/internal/ui"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(app.Execute(newCommand()))
}

func newCommand() *cobra.Command {
	var (
		opts    app.Options
		auto    bool
		force   bool
		address string
		sans    []string
	)

	cmd := app.NewRoot("redelk-certs", "Generate TLS certificates for RedELK", &opts)
	cmd.Args = cobra.NoArgs
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		settings, logger, err := app.Setup(cmd, &opts, "certs")
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		p := ui.Stdout()
		pr := prompt.Stdio()
		pr.AssumeDefaults = auto

		if !executor.Available("openssl") {
			return fmt.Errorf("openssl not found; install it with: sudo apt-get install -y openssl")
		}

		gen := &certs.Generator{
			Runner: executor.NewLocalRunner(logger, false),
			Layout: layout.New(settings.BaseDir),
			Logger: logger,
		}
		p.Banner("RedELK Certificate Generator", gen.Layout.CertsDir())

		if gen.Exists() && !force {
			ok, err := pr.Confirm(ctx, "Certificates already exist. Regenerate them?", false)
			if err != nil {
				return err
			}
			if !ok {
				p.Info("Keeping existing certificates.")
				return nil
			}
		}

		req := certs.Request{Address: address, Additional: sans}
		if req, err = certs.Wizard(ctx, pr, req); err != nil {
			return err
		}

		p.Panel("Certificate configuration")
		p.KeyValues([][2]string{
			{"Common name", req.Address},
			{"Organization", req.Subject.Org},
		})
		p.Info("Subject alternative names:")
		for _, san := range certs.SANs(req.Address, req.Additional) {
			p.Subtle("  %s", san)
		}

		if err := gen.Generate(ctx, req); err != nil {
			return err
		}
		p.Success("Certificates written to %s", gen.Layout.CertsDir())
		for _, w := range gen.Distribute() {
			p.Warn("%v", w)
		}
		p.Success("CA copied to the Logstash input and agent directories")
		p.Info("Restart Logstash to load the new certificate: docker restart redelk-logstash")
		return nil
	}

	f := cmd.Flags()
	f.BoolVar(&auto, "auto", false, "use defaults without prompting")
	f.BoolVar(&force, "force", false, "regenerate existing certificates without asking")
	f.StringVar(&address, "address", "", "server IP or domain (default: detected address)")
	f.StringSliceVar(&sans, "san", nil, "additional DNS names or IPs")
	return cmd
}
