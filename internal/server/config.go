// Package server installs the RedELK server stack: pre-flight checks, an
// interactive configuration wizard and the ordered install steps.
package server

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"redelk/internal/certs"
	"redelk/internal/prompt"
	"redelk/internal/stack"
	"redelk/internal/ui"
)

// Notifications selects the alarm channels enabled in config.json.
type Notifications struct {
	Email   bool `json:"email"`
	Slack   bool `json:"slack"`
	MSTeams bool `json:"msteams"`
}

// List names the enabled channels.
func (n Notifications) List() []string {
	var out []string
	if n.Email {
		out = append(out, "Email")
	}
	if n.Slack {
		out = append(out, "Slack")
	}
	if n.MSTeams {
		out = append(out, "MS Teams")
	}
	return out
}

// Config is what the wizard collects.
type Config struct {
	InstallType        stack.Profile
	ServerAddress      string
	UseLetsEncrypt     bool
	LetsEncryptEmail   string
	LetsEncryptStaging bool
	ProjectName        string
	Notifications      Notifications
	TeamServers        int
}

// Defaults used by the wizard and quickstart mode.
const (
	DefaultProject     = "redelk-project"
	QuickstartProject  = "redelk-quickstart"
	DefaultTeamServers = 3
)

// QuickstartConfig is a full, self-signed install on the detected address.
func QuickstartConfig() Config {
	return Config{
		InstallType:   stack.Full,
		ServerAddress: certs.DetectAddress(),
		ProjectName:   QuickstartProject,
		TeamServers:   DefaultTeamServers,
	}
}

// Validate checks the values the install steps rely on.
func (c Config) Validate() error {
	if _, err := stack.ParseProfile(string(c.InstallType)); err != nil {
		return err
	}
	if strings.TrimSpace(c.ServerAddress) == "" {
		return fmt.Errorf("server address is required")
	}
	if c.UseLetsEncrypt && c.LetsEncryptEmail == "" {
		return fmt.Errorf("an email address is required for Let's Encrypt")
	}
	if c.TeamServers < 1 {
		return fmt.Errorf("team servers must be at least 1")
	}
	return nil
}

// Summary renders the configuration for the confirmation table.
func (c Config) Summary(elkVersion, version string) [][2]string {
	tlsMode := "Self-signed"
	if c.UseLetsEncrypt {
		tlsMode = "Let's Encrypt"
	}
	rows := [][2]string{
		{"Installation type", strings.ToUpper(string(c.InstallType))},
		{"Server address", c.ServerAddress},
		{"TLS certificates", tlsMode},
	}
	if c.UseLetsEncrypt {
		staging := "No"
		if c.LetsEncryptStaging {
			staging = "Yes"
		}
		rows = append(rows, [2]string{"  Email", c.LetsEncryptEmail}, [2]string{"  Staging", staging})
	}
	notif := "None"
	if l := c.Notifications.List(); len(l) > 0 {
		notif = strings.Join(l, ", ")
	}
	return append(rows,
		[2]string{"Project name", c.ProjectName},
		[2]string{"Notifications", notif},
		[2]string{"Team servers", strconv.Itoa(c.TeamServers)},
		[2]string{"ELK version", elkVersion},
		[2]string{"RedELK version", version},
	)
}

// Wizard asks the six configuration questions. Values already set in
// preset become the defaults.
func Wizard(ctx context.Context, pr *prompt.Prompter, p *ui.Printer, preset Config) (Config, error) {
	cfg := preset
	var err error

	p.Panel("Configuration Setup", "Press Enter to accept the default shown in brackets.")

	p.Step(1, 6, "Installation type")
	p.Info("  full     Complete RedELK with Jupyter, BloodHound and Neo4j (8 GB+ RAM)")
	p.Info("  limited  RedELK core only (4 GB+ RAM)")
	def := string(stack.Full)
	if cfg.InstallType != "" {
		def = string(cfg.InstallType)
	}
	choice, err := pr.Choose(ctx, "Installation type", []string{string(stack.Full), string(stack.Limited)}, def)
	if err != nil {
		return cfg, err
	}
	cfg.InstallType = stack.Profile(choice)

	p.Step(2, 6, "Server address")
	p.Subtle("Domain name or IP used for TLS certificates and agent connections.")
	addr := cfg.ServerAddress
	if addr == "" {
		addr = certs.DetectAddress()
	}
	if cfg.ServerAddress, err = pr.Ask(ctx, "Server domain or IP", addr); err != nil {
		return cfg, err
	}

	p.Step(3, 6, "TLS certificates")
	p.Subtle("Let's Encrypt for the web interface, or self-signed certificates for testing.")
	if cfg.UseLetsEncrypt, err = pr.Confirm(ctx, "Use Let's Encrypt for TLS certificates?", cfg.UseLetsEncrypt); err != nil {
		return cfg, err
	}
	if cfg.UseLetsEncrypt {
		if cfg.LetsEncryptEmail, err = pr.AskRequired(ctx, "Email for Let's Encrypt notifications", cfg.LetsEncryptEmail); err != nil {
			return cfg, err
		}
		if cfg.LetsEncryptStaging, err = pr.Confirm(ctx, "Use Let's Encrypt staging (for testing)?", true); err != nil {
			return cfg, err
		}
	} else {
		cfg.LetsEncryptEmail = ""
		cfg.LetsEncryptStaging = false
	}

	p.Step(4, 6, "Project name")
	project := cfg.ProjectName
	if project == "" {
		project = DefaultProject
	}
	if cfg.ProjectName, err = pr.Ask(ctx, "Project name", project); err != nil {
		return cfg, err
	}

	p.Step(5, 6, "Notifications")
	p.Subtle("Alarms fire when Blue Team activity is detected.")
	n := &cfg.Notifications
	for _, q := range []struct {
		question string
		value    *bool
	}{
		{"Enable email notifications?", &n.Email},
		{"Enable Slack notifications?", &n.Slack},
		{"Enable MS Teams notifications?", &n.MSTeams},
	} {
		if *q.value, err = pr.Confirm(ctx, q.question, *q.value); err != nil {
			return cfg, err
		}
	}

	p.Step(6, 6, "Infrastructure sizing")
	p.Subtle("Number of C2 team servers that will ship logs here.")
	teams := cfg.TeamServers
	if teams == 0 {
		teams = DefaultTeamServers
	}
	if cfg.TeamServers, err = pr.Int(ctx, "Number of team servers", teams, 1, 1000); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}
