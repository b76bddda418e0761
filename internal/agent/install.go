package agent

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"redelk/internal/executor"
	"redelk/internal/layout"
	"redelk/internal/preflight"
	"redelk/internal/prompt"
	"redelk/internal/ui"

	"github.com/sirupsen/logrus"
)

// Paths are the host locations the installer touches.
type Paths struct {
	FilebeatDir string
	SourcesList string
	Keyring     string
	LocalCA     string // CA shipped next to the installer
}

// DefaultPaths are the Debian/Ubuntu locations.
func DefaultPaths() Paths {
	return Paths{
		FilebeatDir: "/etc/filebeat",
		SourcesList: "/etc/apt/sources.list.d/elastic-8.x.list",
		Keyring:     "/etc/apt/keyrings/elastic.asc",
		LocalCA:     filepath.Join("filebeat", "redelkCA.crt"),
	}
}

const (
	elasticGPGKey  = "https://artifacts.elastic.co/GPG-KEY-elasticsearch"
	elasticAptRepo = "https://artifacts.elastic.co/packages/8.x/apt"
	connectTimeout = 5 * time.Second
)

// Installer walks an operator through installing Filebeat.
type Installer struct {
	Runner     executor.Runner
	Prompter   *prompt.Prompter
	Printer    *ui.Printer
	Logger     *logrus.Entry
	Checker    *preflight.Checker
	Paths      Paths
	ElkVersion string
	DryRun     bool
	Dial       func(ctx context.Context, network, addr string) (net.Conn, error)
}

func (in *Installer) log() *logrus.Entry {
	if in.Logger == nil {
		in.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return in.Logger
}

// Run executes the whole workflow. preset holds values given on the
// command line; the wizard only asks for the rest.
func (in *Installer) Run(ctx context.Context, preset Config) error {
	p := in.Printer
	p.Banner("RedELK Agent Installer", "Ships C2 and redirector logs to your RedELK server")

	p.Panel("Checking prerequisites")
	report := in.Checker.Agent(ctx)
	p.Table([]string{"Check", "Status", "Details"}, report.Rows())
	if err := report.Err(); err != nil {
		for _, h := range report.Hints() {
			p.Warn("%s", h)
		}
		return err
	}

	cfg, err := in.Wizard(ctx, preset)
	if err != nil {
		return err
	}

	p.Panel("Configuration summary")
	p.KeyValues([][2]string{
		{"Agent type", string(cfg.Role)},
		{"Hostname", cfg.Hostname},
		{"Attack scenario", cfg.AttackScenario},
		{"RedELK server", cfg.Server},
		{"Logstash port", strconv.Itoa(cfg.Port)},
		{"Filebeat version", in.ElkVersion},
	})
	ok, err := in.Prompter.Confirm(ctx, "Proceed with installation?", true)
	if err != nil {
		return err
	}
	if !ok {
		p.Warn("Installation cancelled by user.")
		return nil
	}

	p.Panel("Starting installation")
	if err := in.InstallPackage(ctx); err != nil {
		return err
	}
	if err := in.Configure(ctx, cfg); err != nil {
		return err
	}
	if err := in.Start(ctx); err != nil {
		return err
	}
	if err := in.TestConnection(ctx, cfg); err != nil {
		p.Warn("Could not reach %s: %v", cfg.Endpoint(), err)
		p.Warn("Check the firewall allows port %d and that the RedELK server is running.", cfg.Port)
	} else {
		p.Success("Connected to %s", cfg.Endpoint())
	}

	in.completion(cfg)
	return nil
}

// Wizard asks for every value preset leaves empty.
func (in *Installer) Wizard(ctx context.Context, preset Config) (Config, error) {
	cfg := preset
	pr := in.Prompter
	p := in.Printer
	var err error

	if cfg.Role == "" {
		p.Step(1, 5, "Agent type")
		p.Info("  c2          Command & Control server (Cobalt Strike, Sliver)")
		p.Info("  redirector  Traffic redirector (Apache, Nginx, HAProxy)")
		var role string
		if role, err = pr.Choose(ctx, "Agent type", []string{string(RoleC2), string(RoleRedirector)}, string(RoleC2)); err != nil {
			return cfg, err
		}
		cfg.Role = Role(role)
	}

	if cfg.Hostname == "" {
		p.Step(2, 5, "Hostname")
		p.Subtle("A unique identifier for this host in RedELK.")
		def, herr := os.Hostname()
		if herr != nil {
			def = "unknown"
		}
		if cfg.Hostname, err = pr.Ask(ctx, "Hostname/identifier", def); err != nil {
			return cfg, err
		}
	}

	if cfg.AttackScenario == "" {
		p.Step(3, 5, "Attack scenario")
		p.Subtle("Every agent of the same operation should use the same name.")
		if cfg.AttackScenario, err = pr.Ask(ctx, "Attack scenario", DefaultScenario); err != nil {
			return cfg, err
		}
	}

	if cfg.Server == "" {
		p.Step(4, 5, "RedELK server")
		if cfg.Server, err = pr.AskRequired(ctx, "RedELK server IP/hostname", ""); err != nil {
			return cfg, err
		}
	}

	if cfg.Port == 0 {
		p.Step(5, 5, "Logstash port")
		if cfg.Port, err = pr.Int(ctx, "Logstash port", DefaultPort, 1, 65535); err != nil {
			return cfg, err
		}
	}

	cfg = cfg.withDefaults()
	return cfg, cfg.Validate()
}

func (in *Installer) run(ctx context.Context, name string, args ...string) error {
	_, err := in.Runner.Run(ctx, executor.Cmd(name, args...))
	return err
}

// InstallPackage adds the Elastic apt repository and installs the pinned
// Filebeat version.
func (in *Installer) InstallPackage(ctx context.Context) error {
	in.Printer.Info("Installing Filebeat %s...", in.ElkVersion)

	if err := in.run(ctx, "install", "-d", "-m", "0755", filepath.Dir(in.Paths.Keyring)); err != nil {
		return fmt.Errorf("create keyring directory: %w", err)
	}
	if err := in.run(ctx, "curl", "-fsSL", elasticGPGKey, "-o", in.Paths.Keyring); err != nil {
		return fmt.Errorf("download elastic signing key: %w", err)
	}

	repo := fmt.Sprintf("deb [signed-by=%s] %s stable main\n", in.Paths.Keyring, elasticAptRepo)
	if !layout.Exists(in.Paths.SourcesList) {
		if err := in.writeFile(in.Paths.SourcesList, []byte(repo), 0644); err != nil {
			return fmt.Errorf("add elastic apt repository: %w", err)
		}
	}

	if err := in.run(ctx, "apt-get", "update", "-qq"); err != nil {
		return fmt.Errorf("apt-get update: %w", err)
	}
	if err := in.run(ctx, "apt-get", "install", "-y", "-qq", "filebeat="+in.ElkVersion); err != nil {
		return fmt.Errorf("install filebeat: %w", err)
	}
	if err := in.run(ctx, "systemctl", "enable", "filebeat"); err != nil {
		return fmt.Errorf("enable filebeat: %w", err)
	}
	in.Printer.Success("Filebeat installed")
	return nil
}

func (in *Installer) writeFile(path string, data []byte, perm os.FileMode) error {
	if in.DryRun {
		in.log().Infof("dry-run: write %s (%d bytes)", path, len(data))
		return nil
	}
	return layout.WriteFileAtomic(path, data, perm)
}

// Configure backs up the stock filebeat.yml once, writes ours and installs
// the CA certificate when one ships with the installer.
func (in *Installer) Configure(ctx context.Context, cfg Config) error {
	in.Printer.Info("Configuring Filebeat...")

	cfg.CAPath = filepath.Join(in.Paths.FilebeatDir, "redelkCA.crt")
	data, err := RenderFilebeat(cfg)
	if err != nil {
		return err
	}

	target := filepath.Join(in.Paths.FilebeatDir, "filebeat.yml")
	backup := target + ".orig"
	if layout.Exists(target) && !layout.Exists(backup) && !in.DryRun {
		if err := os.Rename(target, backup); err != nil {
			return fmt.Errorf("back up filebeat.yml: %w", err)
		}
		in.log().Infof("backed up %s to %s", target, backup)
	}

	if err := in.writeFile(target, data, 0600); err != nil {
		return fmt.Errorf("write filebeat.yml: %w", err)
	}

	if layout.Exists(in.Paths.LocalCA) {
		if in.DryRun {
			in.log().Infof("dry-run: copy %s to %s", in.Paths.LocalCA, cfg.CAPath)
		} else if err := layout.CopyFile(in.Paths.LocalCA, cfg.CAPath, 0644); err != nil {
			return fmt.Errorf("install CA certificate: %w", err)
		}
		in.Printer.Success("CA certificate installed at %s", cfg.CAPath)
	} else {
		in.Printer.Warn("CA certificate not found at %s; copy redelkCA.crt to %s before starting Filebeat", in.Paths.LocalCA, cfg.CAPath)
	}
	in.Printer.Success("Configuration written to %s", target)
	return nil
}

// Start restarts the service and checks it stayed up.
func (in *Installer) Start(ctx context.Context) error {
	in.Printer.Info("Starting Filebeat...")
	if err := in.run(ctx, "systemctl", "restart", "filebeat"); err != nil {
		return fmt.Errorf("start filebeat: %w", err)
	}
	if err := in.run(ctx, "systemctl", "is-active", "--quiet", "filebeat"); err != nil {
		return fmt.Errorf("filebeat not running after restart: %w", err)
	}
	in.Printer.Success("Filebeat started")
	return nil
}

// TestConnection dials the Logstash endpoint. When the CA is installed it
// also completes a TLS handshake verifying the server chain the way
// Filebeat's "certificate" mode does, without checking the host name.
func (in *Installer) TestConnection(ctx context.Context, cfg Config) error {
	if in.DryRun {
		return nil
	}
	dial := in.Dial
	if dial == nil {
		d := &net.Dialer{}
		dial = d.DialContext
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, err := dial(ctx, "tcp", net.JoinHostPort(cfg.Server, strconv.Itoa(cfg.Port)))
	if err != nil {
		return err
	}
	defer conn.Close()

	caPath := filepath.Join(in.Paths.FilebeatDir, "redelkCA.crt")
	pem, err := os.ReadFile(caPath)
	if err != nil {
		in.log().Debugf("skipping TLS check: %v", err)
		return nil
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return fmt.Errorf("no certificates in %s", caPath)
	}

	tlsConn := tls.Client(conn, &tls.Config{
		InsecureSkipVerify: true,
		VerifyConnection: func(cs tls.ConnectionState) error {
			return verifyChain(cs, pool)
		},
	})
	if dl, ok := ctx.Deadline(); ok {
		tlsConn.SetDeadline(dl)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("tls handshake: %w", err)
	}
	return nil
}

func verifyChain(cs tls.ConnectionState, roots *x509.CertPool) error {
	if len(cs.PeerCertificates) == 0 {
		return errors.New("server sent no certificate")
	}
	inter := x509.NewCertPool()
	for _, c := range cs.PeerCertificates[1:] {
		inter.AddCert(c)
	}
	_, err := cs.PeerCertificates[0].Verify(x509.VerifyOptions{Roots: roots, Intermediates: inter})
	return err
}

func (in *Installer) completion(cfg Config) {
	p := in.Printer
	p.Panel("Agent installation complete",
		"Agent type     "+string(cfg.Role),
		"Hostname       "+cfg.Hostname,
		"RedELK server  "+cfg.Endpoint(),
		"Config file    "+filepath.Join(in.Paths.FilebeatDir, "filebeat.yml"),
	)
	p.Info("")
	p.Info("Next steps:")
	p.Info("  1. Follow the agent log:  tail -f /var/log/filebeat/filebeat")
	p.Info("  2. Check the service:     systemctl status filebeat")
	p.Info("  3. Look for events in the RedELK Kibana dashboards")
}
