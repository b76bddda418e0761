package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"redelk/internal/certs"
	"redelk/internal/docker"
	"redelk/internal/executor"
	"redelk/internal/journal"
	"redelk/internal/layout"
	"redelk/internal/logging"
	"redelk/internal/preflight"
	"redelk/internal/prompt"
	"redelk/internal/secrets"
	"redelk/internal/stack"
	"redelk/internal/state"
	"redelk/internal/ui"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const elk = "8.11.3"

func healthyStack() *docker.Fake {
	return &docker.Fake{
		Version: "28.5.2",
		Containers: map[string]*docker.FakeContainer{
			"redelk-elasticsearch": {Status: "running", Exec: map[string]docker.FakeExec{
				"curl -k -s -u elastic:s3cret https://localhost:9200/_cluster/health": {Stdout: `{"status":"yellow"}`},
			}},
			"redelk-logstash": {Status: "running", Exec: map[string]docker.FakeExec{
				"curl -s http://localhost:9600": {Stdout: `{"status":"green"}`},
			}},
			"redelk-kibana": {Status: "running", Exec: map[string]docker.FakeExec{
				"curl -k -s https://localhost:5601/api/status": {Stdout: `{"status":{"overall":{"level":"available"}}}`},
			}},
		},
	}
}

type fixture struct {
	installer *Installer
	runner    *executor.FakeRunner
	docker    *docker.Fake
	layout    layout.Layout
	out       *bytes.Buffer
}

func newFixture(t *testing.T, input string, interactive bool) *fixture {
	t.Helper()
	dir := t.TempDir()
	l := layout.New(dir)

	// A checkout ships the compose files, certificates from an earlier
	// run and a password file.
	require.NoError(t, os.MkdirAll(l.CertsDir(), 0755))
	for _, name := range []string{certs.CACertFile, certs.CAKeyFile, certs.ServerCrtFile, certs.ServerKeyFile} {
		require.NoError(t, os.WriteFile(filepath.Join(l.CertsDir(), name), []byte(name), 0600))
	}
	for _, p := range []stack.Profile{stack.Full, stack.Limited} {
		require.NoError(t, os.WriteFile(l.ComposeFile(p.ComposeFile()), []byte("services: {}\n"), 0644))
	}
	require.NoError(t, secrets.Passwords{secrets.ElasticPassword: "s3cret"}.Save(l.PasswordsFile()))

	osRelease := filepath.Join(dir, "os-release")
	debian := filepath.Join(dir, "debian_version")
	require.NoError(t, os.WriteFile(osRelease, []byte("ID=ubuntu\nVERSION_ID=\"22.04\"\n"), 0644))
	require.NoError(t, os.WriteFile(debian, []byte("bookworm/sid\n"), 0644))

	runner := &executor.FakeRunner{}
	runner.On("docker --version", executor.Result{Stdout: "Docker version 28.5.2\n"}, nil)
	runner.On("docker compose version", executor.Result{Stdout: "Docker Compose version v2.29.1\n"}, nil)

	fake := healthyStack()
	client := docker.New(fake, logging.Discard())
	host := preflight.StaticHost{Memory: 16 * preflight.GiB, Free: 100 * preflight.GiB}
	out := &bytes.Buffer{}

	return &fixture{
		installer: &Installer{
			Runner:   runner,
			Docker:   client,
			Prompter: prompt.New(strings.NewReader(input), out, interactive),
			Printer:  ui.New(out),
			Logger:   logging.Discard(),
			Checker: &preflight.Checker{
				Runner:            runner,
				Docker:            client,
				Host:              host,
				EUID:              func() int { return 0 },
				DebianVersionPath: debian,
				OSReleasePath:     osRelease,
				DiskPath:          dir,
				Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
					return nil, errors.New("connection refused")
				},
			},
			Host:           host,
			Layout:         l,
			ElkVersion:     elk,
			Version:        "3.0.0",
			VerifyAttempts: 2,
			VerifyDelay:    time.Millisecond,
		},
		runner: runner,
		docker: fake,
		layout: l,
		out:    out,
	}
}

func TestQuickstartInstall(t *testing.T) {
	f := newFixture(t, "", false)
	f.installer.Quickstart = true

	require.NoError(t, f.installer.Run(context.Background(), Config{ServerAddress: "redelk.example.com"}))

	lines := f.runner.Lines()
	assert.Contains(t, lines, "apt-get update -qq")
	assert.Contains(t, lines, "apt-get install -y -qq ca-certificates curl openssl jq")
	up := lines[len(lines)-1]
	assert.True(t, strings.HasPrefix(up, "docker compose -f "+f.layout.ComposeFile("redelk-full.yml")), up)
	assert.True(t, strings.HasSuffix(up, "up -d --build"), up)

	assert.Equal(t, stack.Images(stack.Full, elk), f.docker.Pulled)

	env, err := os.ReadFile(f.layout.EnvFile())
	require.NoError(t, err)
	assert.Contains(t, string(env), `ELASTIC_PASSWORD=s3cret`)
	assert.Contains(t, string(env), "EXTERNAL_DOMAIN=redelk.example.com")
	assert.Contains(t, string(env), "ES_MEMORY=8g")
	assert.Contains(t, string(env), "PROJECT_NAME="+QuickstartProject)

	pw, err := secrets.Load(f.layout.PasswordsFile())
	require.NoError(t, err)
	assert.Equal(t, "s3cret", pw.Get(secrets.ElasticPassword))
	assert.NotEmpty(t, pw.Get(secrets.OperatorPassword))

	for _, path := range []string{
		f.layout.RoutingRulesFile(),
		f.layout.RedelkConfigFile(),
		f.layout.HtpasswdFile(),
		filepath.Join(f.layout.CertsInputsDir(), certs.CACertFile),
		filepath.Join(f.layout.C2FilebeatDir(), certs.CACertFile),
	} {
		assert.FileExists(t, path)
	}
	confs, err := os.ReadDir(f.layout.LogstashConfDir())
	require.NoError(t, err)
	assert.NotEmpty(t, confs)

	st, err := state.Read(f.layout.StateFile())
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "full", st.InstallType)
	assert.True(t, st.Done("verify"))

	entries, err := journal.Read(f.layout.JournalFile())
	require.NoError(t, err)
	require.Len(t, entries, 9)
	for _, e := range entries {
		assert.Equal(t, journal.StatusOK, e.Status, e.Step)
		assert.Equal(t, st.RunID, e.RunID)
	}

	out := f.out.String()
	assert.Contains(t, out, "Installation Complete!")
	assert.Contains(t, out, "https://redelk.example.com/jupyter")
}

func TestRerunSkipsOnceSteps(t *testing.T) {
	f := newFixture(t, "", false)
	f.installer.Quickstart = true
	cfg := Config{ServerAddress: "10.0.0.5", InstallType: stack.Limited}
	require.NoError(t, f.installer.Run(context.Background(), cfg))

	f.runner.Calls = nil
	require.NoError(t, f.installer.Run(context.Background(), cfg))
	for _, line := range f.runner.Lines() {
		assert.False(t, strings.HasPrefix(line, "apt-get"), line)
	}

	entries, err := journal.Read(f.layout.JournalFile())
	require.NoError(t, err)
	require.Len(t, entries, 18)
	assert.Equal(t, journal.StatusSkipped, entries[9].Status)
	assert.Equal(t, "system-update", entries[9].Step)
}

func TestDryRunWritesNothing(t *testing.T) {
	f := newFixture(t, "", false)
	f.installer.Quickstart = true
	f.installer.DryRun = true

	require.NoError(t, f.installer.Run(context.Background(), Config{ServerAddress: "10.0.0.5"}))

	assert.NoFileExists(t, f.layout.EnvFile())
	assert.NoFileExists(t, f.layout.StateFile())
	assert.NoFileExists(t, f.layout.RedelkConfigFile())
	assert.NoDirExists(t, f.layout.IndexTemplatesDir())
	assert.Empty(t, f.docker.Pulled)
	assert.Contains(t, f.out.String(), "Dry-run completed successfully!")
}

func TestDeclinedConfirmationIsNotAnError(t *testing.T) {
	// limited, address, no LE, project, three notification answers, team
	// servers, then decline.
	input := "limited\n10.1.1.1\nn\nop-x\nn\ny\nn\n4\nn\n"
	f := newFixture(t, input, true)

	require.NoError(t, f.installer.Run(context.Background(), Config{}))
	assert.Contains(t, f.out.String(), "Installation cancelled by user.")
	assert.NoFileExists(t, f.layout.EnvFile())
	for _, line := range f.runner.Lines() {
		assert.False(t, strings.HasPrefix(line, "apt-get"), line)
	}
}

func TestPreflightFailureStops(t *testing.T) {
	f := newFixture(t, "", false)
	f.installer.Quickstart = true
	f.installer.Checker.EUID = func() int { return 1000 }

	err := f.installer.Run(context.Background(), Config{ServerAddress: "10.0.0.5"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, preflight.ErrPrerequisites))
	assert.Contains(t, f.out.String(), "Pre-flight checks failed")
}

func TestStepFailureIsJournaled(t *testing.T) {
	f := newFixture(t, "", false)
	f.installer.Quickstart = true
	f.runner.Fail("docker compose -f", 1, "port is already allocated")

	err := f.installer.Run(context.Background(), Config{ServerAddress: "10.0.0.5"})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "start: "), err.Error())

	entries, err := journal.Read(f.layout.JournalFile())
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, "start", last.Step)
	assert.Equal(t, journal.StatusFailed, last.Status)
	assert.Contains(t, last.Error, "port is already allocated")
}

func TestUnhealthyServicesOnlyWarn(t *testing.T) {
	f := newFixture(t, "", false)
	f.installer.Quickstart = true
	f.docker.Containers["redelk-kibana"].Status = "restarting"

	require.NoError(t, f.installer.Run(context.Background(), Config{ServerAddress: "10.0.0.5"}))
	assert.Contains(t, f.out.String(), "Services are not healthy yet")
}

type templateRecorder struct {
	password string
	names    []string
	fail     string
}

func (r *templateRecorder) PutIndexTemplate(ctx context.Context, name string, body []byte) error {
	if name == r.fail {
		return errors.New("HTTP 400")
	}
	if !json.Valid(body) {
		return errors.New("invalid body")
	}
	r.names = append(r.names, name)
	return nil
}

func TestIndexTemplatesInstalled(t *testing.T) {
	f := newFixture(t, "", false)
	f.installer.Quickstart = true
	store := &templateRecorder{fail: "redelk-ioc"}
	f.installer.NewTemplateStore = func(password string) (TemplateStore, error) {
		store.password = password
		return store, nil
	}

	require.NoError(t, f.installer.Run(context.Background(), Config{ServerAddress: "10.0.0.5"}))

	files, err := filepath.Glob(filepath.Join(f.layout.IndexTemplatesDir(), "redelk-*.json"))
	require.NoError(t, err)
	assert.Len(t, files, 7)

	assert.Equal(t, "s3cret", store.password)
	assert.Contains(t, store.names, "redelk-rtops")
	assert.NotContains(t, store.names, "redelk-ioc")
	assert.Len(t, store.names, 6)
	assert.Contains(t, f.out.String(), "Index template redelk-ioc not installed")
	assert.Contains(t, f.out.String(), "6 index templates installed")
}

func TestIndexTemplatesSkippedWhenUnhealthy(t *testing.T) {
	f := newFixture(t, "", false)
	f.installer.Quickstart = true
	f.docker.Containers["redelk-elasticsearch"].Status = "exited"
	called := false
	f.installer.NewTemplateStore = func(string) (TemplateStore, error) {
		called = true
		return &templateRecorder{}, nil
	}

	require.NoError(t, f.installer.Run(context.Background(), Config{ServerAddress: "10.0.0.5"}))
	assert.False(t, called)
	assert.FileExists(t, filepath.Join(f.layout.IndexTemplatesDir(), "redelk-rtops.json"))
}

func TestMissingComposeFile(t *testing.T) {
	f := newFixture(t, "", false)
	f.installer.Quickstart = true
	require.NoError(t, os.Remove(f.layout.ComposeFile("redelk-full.yml")))

	err := f.installer.Run(context.Background(), Config{ServerAddress: "10.0.0.5"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compose file")
}

func TestWizard(t *testing.T) {
	input := strings.Join([]string{
		"limited",         // install type
		"elk.example.org", // address
		"y",               // let's encrypt
		"ops@example.org", // email
		"",                // staging, default yes
		"",                // project, default
		"y", "n", "y",     // email, slack, teams
		"0", "12",         // team servers, first out of range
	}, "\n") + "\n"
	out := &bytes.Buffer{}

	cfg, err := Wizard(context.Background(), prompt.New(strings.NewReader(input), out, true), ui.New(out), Config{})
	require.NoError(t, err)
	assert.Equal(t, Config{
		InstallType:        stack.Limited,
		ServerAddress:      "elk.example.org",
		UseLetsEncrypt:     true,
		LetsEncryptEmail:   "ops@example.org",
		LetsEncryptStaging: true,
		ProjectName:        DefaultProject,
		Notifications:      Notifications{Email: true, MSTeams: true},
		TeamServers:        12,
	}, cfg)
	assert.Contains(t, out.String(), "between 1 and 1000")
}

func TestConfigValidate(t *testing.T) {
	good := Config{InstallType: stack.Full, ServerAddress: "1.2.3.4", TeamServers: 1}
	require.NoError(t, good.Validate())

	for name, mutate := range map[string]func(*Config){
		"profile": func(c *Config) { c.InstallType = "medium" },
		"address": func(c *Config) { c.ServerAddress = " " },
		"email":   func(c *Config) { c.UseLetsEncrypt = true },
		"teams":   func(c *Config) { c.TeamServers = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			c := good
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestSummaryRows(t *testing.T) {
	c := Config{InstallType: stack.Limited, ServerAddress: "x", UseLetsEncrypt: true,
		LetsEncryptEmail: "a@b", ProjectName: "p", Notifications: Notifications{Slack: true}, TeamServers: 2}
	rows := c.Summary(elk, "3.0.0")
	assert.Equal(t, [2]string{"Installation type", "LIMITED"}, rows[0])
	assert.Contains(t, rows, [2]string{"TLS certificates", "Let's Encrypt"})
	assert.Contains(t, rows, [2]string{"  Staging", "No"})
	assert.Contains(t, rows, [2]string{"Notifications", "Slack"})
}

func TestLogstashHeap(t *testing.T) {
	for teams, want := range map[int]string{1: "1g", 5: "1g", 6: "2g", 10: "2g", 11: "4g"} {
		assert.Equal(t, want, logstashHeap(teams), "teams=%d", teams)
	}
}

func TestRenderEnv(t *testing.T) {
	env := string(renderEnv(envSettings{
		Config:        Config{InstallType: stack.Full, ServerAddress: "1.2.3.4", ProjectName: "my project", TeamServers: 3},
		Passwords:     secrets.Passwords{secrets.ElasticPassword: "abc"},
		ESHeap:        "2g",
		LogstashHeap:  "1g",
		ElkVersion:    elk,
		RedelkVersion: "3.0.0",
	}))
	assert.Contains(t, env, "ELK_VERSION=8.11.3\n")
	assert.Contains(t, env, `PROJECT_NAME="my project"`)
	assert.Contains(t, env, "ES_MEMORY=2g\n")
	assert.Contains(t, env, "ELASTIC_PASSWORD=abc\n")
	assert.Contains(t, env, "INSTALL_TYPE=full\n")
}

func TestRenderRedelkConfig(t *testing.T) {
	data, err := renderRedelkConfig(Config{
		InstallType: stack.Limited, ServerAddress: "1.2.3.4", ProjectName: "op",
		Notifications: Notifications{Slack: true}, TeamServers: 3,
	})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "op", doc["project_name"])
	notif := doc["notifications"].(map[string]any)
	assert.Equal(t, true, notif["slack"].(map[string]any)["enabled"])
	assert.Equal(t, false, notif["email"].(map[string]any)["enabled"])
}

func TestAccessURLs(t *testing.T) {
	limited := AccessURLs(Config{InstallType: stack.Limited, ServerAddress: "h"})
	full := AccessURLs(Config{InstallType: stack.Full, ServerAddress: "h"})
	assert.Len(t, limited, 3)
	assert.Len(t, full, 6)
	assert.Contains(t, full, [2]string{"BloodHound", "https://h:8443"})
}
