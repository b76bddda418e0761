package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"redelk/internal/certs"
	"redelk/internal/executor"
	"redelk/internal/health"
	"redelk/internal/journal"
	"redelk/internal/layout"
	"redelk/internal/logging"
	"redelk/internal/preflight"
	"redelk/internal/prompt"
	"redelk/internal/routing"
	"redelk/internal/secrets"
	"redelk/internal/stack"
	"redelk/internal/state"
	"redelk/internal/ui"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"
)

// Containers is what the installer needs from Docker.
type Containers interface {
	health.Containers
	Pull(ctx context.Context, ref string) error
}

// Installer runs the server installation.
type Installer struct {
	Runner   executor.Runner
	Docker   Containers
	Prompter *prompt.Prompter
	Printer  *ui.Printer
	Logger   *logrus.Entry
	Checker  *preflight.Checker
	Host     preflight.HostInfo
	Layout   layout.Layout

	ElkVersion   string
	Version      string
	DryRun       bool
	SkipWarnings bool
	Quickstart   bool

	VerifyAttempts uint
	VerifyDelay    time.Duration

	// NewTemplateStore connects to Elasticsearch as the elastic user once
	// the services are healthy. Nil leaves the index templates on disk.
	NewTemplateStore func(password string) (TemplateStore, error)
}

// TemplateStore installs composable index templates.
type TemplateStore interface {
	PutIndexTemplate(ctx context.Context, name string, body []byte) error
}

func (in *Installer) log() *logrus.Entry {
	if in.Logger == nil {
		in.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return in.Logger
}

// Run is the whole workflow: checks, configuration, confirmation, install.
// Declining a confirmation ends the run without error.
func (in *Installer) Run(ctx context.Context, preset Config) error {
	p := in.Printer
	p.Banner("RedELK Server Installer", fmt.Sprintf("RedELK %s with Elastic Stack %s", in.Version, in.ElkVersion))

	proceed, err := in.Preflight(ctx)
	if err != nil || !proceed {
		return err
	}

	var cfg Config
	if in.Quickstart {
		p.Warn("Quick start mode: using defaults for rapid deployment")
		cfg = QuickstartConfig()
		if preset.ServerAddress != "" {
			cfg.ServerAddress = preset.ServerAddress
		}
		if preset.InstallType != "" {
			cfg.InstallType = preset.InstallType
		}
	} else if cfg, err = Wizard(ctx, in.Prompter, p, preset); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	p.Panel("Configuration Summary")
	p.KeyValues(cfg.Summary(in.ElkVersion, in.Version))
	in.warnSizing(ctx, cfg)

	if in.DryRun {
		p.Warn("Dry-run mode: no changes will be made")
	} else {
		ok, err := in.Prompter.Confirm(ctx, "Proceed with installation?", true)
		if err != nil {
			return err
		}
		if !ok {
			p.Warn("Installation cancelled by user.")
			return nil
		}
	}

	if err := in.Install(ctx, cfg); err != nil {
		return err
	}
	if in.DryRun {
		p.Success("Dry-run completed successfully!")
		p.Info("Run without --dry-run to perform the installation.")
		return nil
	}
	in.completion(cfg)
	return nil
}

// Preflight prints the server checklist. It returns false without an
// error when the operator declines to continue past warnings.
func (in *Installer) Preflight(ctx context.Context) (bool, error) {
	p := in.Printer
	p.Panel("Pre-flight Checks")
	report := in.Checker.Server(ctx)
	p.Table([]string{"Check", "Status", "Details"}, report.Rows())

	warnings := report.Warnings()
	for _, w := range warnings {
		p.Warn("%s: %s", w.Name, w.Detail)
	}
	if err := report.Err(); err != nil {
		p.Fail("Pre-flight checks failed. Fix the issues above before continuing.")
		for _, h := range report.Hints() {
			p.Info("  %s", h)
		}
		return false, err
	}

	if len(warnings) > 0 && !in.SkipWarnings && !in.Quickstart {
		ok, err := in.Prompter.Confirm(ctx, "Continue despite warnings?", false)
		if err != nil {
			return false, err
		}
		if !ok {
			p.Warn("Installation cancelled.")
			return false, nil
		}
	}
	p.Success("All pre-flight checks passed")
	return true, nil
}

func (in *Installer) warnSizing(ctx context.Context, cfg Config) {
	if cfg.InstallType != stack.Full || in.Host == nil {
		return
	}
	total, err := in.Host.TotalMemory(ctx)
	if err == nil && total < preflight.RecommendedMemory {
		in.Printer.Warn("A full install needs 8 GB+ RAM; this host has %d GB. Consider the limited install.", total/preflight.GiB)
	}
}

// installRun carries what one Install call accumulates between steps.
type installRun struct {
	cfg       Config
	passwords secrets.Passwords
	state     *state.Store
	journal   *journal.Journal
}

type step struct {
	name  string
	title string
	// once steps are skipped when an earlier run completed them.
	once bool
	run  func(ctx context.Context, r *installRun) error
}

func (in *Installer) steps() []step {
	return []step{
		{"system-update", "Updating package lists", true, in.stepSystemUpdate},
		{"dependencies", "Installing dependencies", true, in.stepDependencies},
		{"scaffold", "Creating directory structure", false, in.stepScaffold},
		{"certificates", "Generating TLS certificates", false, in.stepCertificates},
		{"passwords", "Generating secure passwords", false, in.stepPasswords},
		{"configuration", "Generating configuration files", false, in.stepConfiguration},
		{"images", "Pulling container images", false, in.stepImages},
		{"start", "Starting services", false, in.stepStart},
		{"verify", "Verifying installation", false, in.stepVerify},
	}
}

// Install performs the install steps in order, stopping at the first
// failure. Progress is journaled and recorded in the state file.
func (in *Installer) Install(ctx context.Context, cfg Config) error {
	r := &installRun{cfg: cfg}
	if !in.DryRun {
		if err := os.MkdirAll(in.Layout.LogsDir(), 0755); err != nil {
			return fmt.Errorf("create logs directory: %w", err)
		}
		logging.MirrorToFile(in.log(), in.Layout.InstallLog())

		st, err := state.Open(in.Layout.StateFile())
		if err != nil {
			return err
		}
		j, err := journal.Open(in.Layout.JournalFile(), st.RunID())
		if err != nil {
			return err
		}
		defer j.Close()
		if err := st.SetInstall(string(cfg.InstallType), cfg.ServerAddress); err != nil {
			return err
		}
		r.state, r.journal = st, j
		in.log().WithField("run_id", st.RunID()).Infof("starting %s install for %s", cfg.InstallType, cfg.ServerAddress)
	}

	in.Printer.Panel("Starting Installation")
	steps := in.steps()
	for i, s := range steps {
		if err := in.runStep(ctx, r, i+1, len(steps), s); err != nil {
			return err
		}
	}
	if r.state != nil {
		snap := r.state.Snapshot()
		in.log().WithField("run_id", snap.RunID).Infof("install finished, %d steps recorded since %s",
			len(snap.Steps), snap.Started.Format(time.RFC3339))
	}
	return nil
}

func (in *Installer) runStep(ctx context.Context, r *installRun, n, total int, s step) error {
	p := in.Printer
	p.Step(n, total, s.title)
	logger := in.log().WithField("step", s.name)

	if s.once && r.state != nil && r.state.Done(s.name) {
		p.Subtle("  completed in an earlier run, skipping")
		in.record(r, s.name, journal.StatusSkipped, 0, nil)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	err := s.run(ctx, r)
	elapsed := time.Since(start)
	if err != nil {
		in.record(r, s.name, journal.StatusFailed, elapsed, err)
		logger.WithError(err).Error("step failed")
		p.Fail("%s failed: %v", s.title, err)
		return fmt.Errorf("%s: %w", s.name, err)
	}

	status := journal.StatusOK
	if in.DryRun {
		status = journal.StatusDryRun
	}
	in.record(r, s.name, status, elapsed, nil)
	if r.state != nil {
		if err := r.state.Complete(s.name); err != nil {
			logger.Warnf("record state: %v", err)
		}
	}
	logger.Debugf("done in %s", elapsed.Round(time.Millisecond))
	return nil
}

func (in *Installer) record(r *installRun, name, status string, d time.Duration, err error) {
	if r.journal == nil {
		return
	}
	if jerr := r.journal.Record(name, status, d, err); jerr != nil {
		in.log().Warnf("journal: %v", jerr)
	}
}

func (in *Installer) exec(ctx context.Context, c executor.Command) error {
	_, err := in.Runner.Run(ctx, c)
	return err
}

func (in *Installer) writeFile(path string, data []byte, perm os.FileMode) error {
	if in.DryRun {
		in.log().Infof("dry-run: write %s (%d bytes)", path, len(data))
		return nil
	}
	return layout.WriteFileAtomic(path, data, perm)
}

func (in *Installer) stepSystemUpdate(ctx context.Context, r *installRun) error {
	return in.exec(ctx, executor.Cmd("apt-get", "update", "-qq"))
}

// Packages the installer needs on the host besides Docker.
var hostPackages = []string{"ca-certificates", "curl", "openssl", "jq"}

func (in *Installer) stepDependencies(ctx context.Context, r *installRun) error {
	args := append([]string{"install", "-y", "-qq"}, hostPackages...)
	return in.exec(ctx, executor.Cmd("apt-get", args...))
}

func (in *Installer) stepScaffold(ctx context.Context, r *installRun) error {
	if in.DryRun {
		for _, d := range in.Layout.Dirs() {
			in.log().Infof("dry-run: mkdir %s", d)
		}
		return nil
	}
	return in.Layout.Scaffold()
}

func (in *Installer) stepCertificates(ctx context.Context, r *installRun) error {
	gen := &certs.Generator{Runner: in.Runner, Layout: in.Layout, Logger: in.log(), DryRun: in.DryRun}
	if gen.Exists() {
		in.Printer.Subtle("  existing certificates kept")
	} else {
		if err := gen.Generate(ctx, certs.Request{Address: r.cfg.ServerAddress}); err != nil {
			return err
		}
		in.Printer.Success("Certificates for %s generated", r.cfg.ServerAddress)
	}
	for _, w := range gen.Distribute() {
		in.Printer.Warn("%v", w)
	}
	return nil
}

func (in *Installer) stepPasswords(ctx context.Context, r *installRun) error {
	path := in.Layout.PasswordsFile()
	if in.DryRun {
		in.log().Infof("dry-run: generate passwords into %s", path)
		r.passwords = secrets.Passwords{}
		return nil
	}
	pw, created, err := secrets.LoadOrCreate(path)
	if err != nil {
		return err
	}
	r.passwords = pw
	if created {
		in.Printer.Success("Passwords written to %s", path)
	} else {
		in.Printer.Subtle("  existing passwords kept")
	}
	return nil
}

func (in *Installer) stepConfiguration(ctx context.Context, r *installRun) error {
	l := in.Layout

	heap := "1g"
	if in.Host != nil {
		if total, err := in.Host.TotalMemory(ctx); err == nil {
			heap = preflight.HeapSize(total)
		}
	}
	env := renderEnv(envSettings{
		Config:        r.cfg,
		Passwords:     r.passwords,
		ESHeap:        heap,
		LogstashHeap:  logstashHeap(r.cfg.TeamServers),
		ElkVersion:    in.ElkVersion,
		RedelkVersion: in.Version,
	})
	if err := in.writeFile(l.EnvFile(), env, 0600); err != nil {
		return fmt.Errorf("write .env: %w", err)
	}
	in.log().Infof("elasticsearch heap %s", heap)

	rules := routing.DefaultRules()
	if layout.Exists(l.RoutingRulesFile()) {
		rs, err := routing.LoadRules(l.RoutingRulesFile())
		if err != nil {
			return err
		}
		rules = rs
	} else if !in.DryRun {
		if err := routing.WriteRules(l.RoutingRulesFile(), rules); err != nil {
			return err
		}
	}
	if in.DryRun {
		in.log().Infof("dry-run: render logstash pipeline into %s", l.LogstashConfDir())
	} else if _, err := routing.WriteLogstashConfig(l.LogstashConfDir(), rules, routing.DefaultOutputConfig(), routing.DefaultThreatDictionary); err != nil {
		return err
	}
	if in.DryRun {
		in.log().Infof("dry-run: render index templates into %s", l.IndexTemplatesDir())
	} else if _, err := routing.WriteIndexTemplates(l.IndexTemplatesDir(), rules); err != nil {
		return err
	}

	if !layout.Exists(l.RedelkConfigFile()) {
		data, err := renderRedelkConfig(r.cfg)
		if err != nil {
			return err
		}
		if err := in.writeFile(l.RedelkConfigFile(), data, 0644); err != nil {
			return fmt.Errorf("write config.json: %w", err)
		}
	} else {
		in.Printer.Subtle("  keeping existing %s", l.RedelkConfigFile())
	}

	if in.DryRun {
		in.log().Infof("dry-run: write %s", l.HtpasswdFile())
	} else if err := secrets.WriteHtpasswd(l.HtpasswdFile(), secrets.OperatorUser, r.passwords.Get(secrets.OperatorPassword)); err != nil {
		return err
	}
	in.Printer.Success("Configuration written")
	return nil
}

func (in *Installer) stepImages(ctx context.Context, r *installRun) error {
	for _, ref := range stack.Images(r.cfg.InstallType, in.ElkVersion) {
		if in.DryRun {
			in.log().Infof("dry-run: pull %s", ref)
			continue
		}
		if err := in.Docker.Pull(ctx, ref); err != nil {
			return err
		}
		in.Printer.Success("%s", ref)
	}
	return nil
}

func (in *Installer) stepStart(ctx context.Context, r *installRun) error {
	file := in.Layout.ComposeFile(r.cfg.InstallType.ComposeFile())
	if !layout.Exists(file) && !in.DryRun {
		return fmt.Errorf("compose file %s not found; run the installer from a RedELK checkout", file)
	}
	compose, _, err := preflight.DetectCompose(ctx, in.Runner)
	if err != nil {
		return err
	}
	args := append(append([]string{}, compose[1:]...),
		"-f", file, "--env-file", in.Layout.EnvFile(), "up", "-d", "--build")
	return in.exec(ctx, executor.Command{
		Name:    compose[0],
		Args:    args,
		Dir:     in.Layout.ElkServer(),
		Timeout: 30 * time.Minute,
	})
}

// stepVerify polls the core services until they report healthy. Services
// that are still starting only produce a warning.
func (in *Installer) stepVerify(ctx context.Context, r *installRun) error {
	if in.DryRun {
		in.log().Info("dry-run: skip service verification")
		return nil
	}
	attempts, delay := in.VerifyAttempts, in.VerifyDelay
	if attempts == 0 {
		attempts = 30
	}
	if delay == 0 {
		delay = 10 * time.Second
	}

	checker := &health.Checker{Docker: in.Docker, Env: r.passwords, Logger: in.log()}
	services := stack.CoreServices(r.cfg.InstallType, in.ElkVersion)
	err := retry.Do(func() error {
		for _, svc := range services {
			if res := checker.Service(ctx, svc); !res.Healthy() {
				return fmt.Errorf("%s: %s", svc.Name, res.CheckText())
			}
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			in.log().Debugf("waiting for services (attempt %d): %v", n+1, err)
		}),
	)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return ctx.Err()
		}
		in.Printer.Warn("Services are not healthy yet (%v)", err)
		in.Printer.Warn("Elasticsearch can take several minutes to start; check again with redelk-health.")
		return nil
	}
	for _, svc := range services {
		in.Printer.Success("%s healthy", svc.Name)
	}
	return in.installTemplates(ctx, r)
}

// installTemplates loads the rendered index templates into Elasticsearch.
// A failure leaves the stack running and is only reported.
func (in *Installer) installTemplates(ctx context.Context, r *installRun) error {
	if in.NewTemplateStore == nil {
		return nil
	}
	templates, err := routing.LoadIndexTemplates(in.Layout.IndexTemplatesDir())
	if err != nil {
		in.Printer.Warn("Index templates not installed: %v", err)
		return nil
	}
	store, err := in.NewTemplateStore(r.passwords.Get(secrets.ElasticPassword))
	if err != nil {
		in.Printer.Warn("Index templates not installed: %v", err)
		return nil
	}
	installed := 0
	for _, t := range templates {
		if err := store.PutIndexTemplate(ctx, t.Name, t.Body); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			in.Printer.Warn("Index template %s not installed: %v", t.Name, err)
			continue
		}
		installed++
		in.log().Debugf("installed index template %s", t.Name)
	}
	if installed > 0 {
		in.Printer.Success("%d index templates installed", installed)
	}
	return nil
}

// AccessURLs lists where the operator reaches the stack.
func AccessURLs(cfg Config) [][2]string {
	s := cfg.ServerAddress
	rows := [][2]string{
		{"Kibana dashboard", "https://" + s + "/"},
		{"  Username", secrets.OperatorUser},
		{"  Password", "see elkserver/redelk_passwords.cfg"},
	}
	if cfg.InstallType == stack.Full {
		rows = append(rows,
			[2]string{"Jupyter notebooks", "https://" + s + "/jupyter"},
			[2]string{"BloodHound", "https://" + s + ":8443"},
			[2]string{"Neo4j browser", "http://" + s + ":7474"},
		)
	}
	return rows
}

func (in *Installer) completion(cfg Config) {
	p := in.Printer
	p.Banner("Installation Complete!", cfg.ProjectName)
	p.KeyValues(AccessURLs(cfg))
	p.Panel("What's next?",
		"1. Review generated passwords:    cat elkserver/redelk_passwords.cfg",
		"2. Set up C2 servers/redirectors: redelk-agent",
		"3. Customise alarms:              elkserver/mounts/redelk-config/etc/redelk/config.json",
		"4. Check service status:          redelk-health",
	)
}
