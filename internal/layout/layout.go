// Package layout names the directories and files of a RedELK checkout and
// creates them.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout resolves every well-known path against a base directory.
type Layout struct {
	Base string
}

// New returns the layout rooted at base.
func New(base string) Layout {
	return Layout{Base: base}
}

func (l Layout) path(elem ...string) string {
	return filepath.Join(append([]string{l.Base}, elem...)...)
}

func (l Layout) ElkServer() string     { return l.path("elkserver") }
func (l Layout) EnvFile() string       { return l.path("elkserver", ".env") }
func (l Layout) PasswordsFile() string { return l.path("elkserver", "redelk_passwords.cfg") }
func (l Layout) LogsDir() string       { return l.path("elkserver", "logs") }
func (l Layout) InstallLog() string    { return l.path("elkserver", "logs", "redelk-install.log") }
func (l Layout) JournalFile() string   { return l.path("elkserver", "logs", "install-journal.jsonl") }
func (l Layout) StateFile() string     { return l.path("elkserver", ".redelk-state.json") }

// CertsDir holds the CA and server key material produced by the generator.
func (l Layout) CertsDir() string { return l.path("certs") }

// CertsInputsDir is mounted into Logstash for the beats TLS input.
func (l Layout) CertsInputsDir() string {
	return l.path("elkserver", "mounts", "logstash-config", "certs_inputs")
}

// LogstashConfDir holds the generated pipeline stages.
func (l Layout) LogstashConfDir() string {
	return l.path("elkserver", "mounts", "logstash-config", "redelk-main", "conf.d")
}

// RoutingRulesFile optionally overrides the default routing rules.
func (l Layout) RoutingRulesFile() string {
	return l.path("elkserver", "mounts", "logstash-config", "routing.yml")
}

// IndexTemplatesDir holds the rendered Elasticsearch index templates.
func (l Layout) IndexTemplatesDir() string {
	return l.path("elkserver", "mounts", "elasticsearch-config", "index-templates")
}

func (l Layout) ThreatFeedsDir() string { return l.path("elkserver", "logstash", "threat-feeds") }

func (l Layout) RedelkConfigFile() string {
	return l.path("elkserver", "mounts", "redelk-config", "etc", "redelk", "config.json")
}

func (l Layout) HtpasswdFile() string {
	return l.path("elkserver", "mounts", "nginx-config", "htpasswd.users")
}

func (l Layout) C2FilebeatDir() string    { return l.path("c2servers", "filebeat") }
func (l Layout) RedirFilebeatDir() string { return l.path("redirs", "filebeat") }

// ComposeFile is the compose definition of the given file name.
func (l Layout) ComposeFile(name string) string { return l.path("elkserver", name) }

// Dirs lists the directories Scaffold creates.
func (l Layout) Dirs() []string {
	return []string{
		l.LogsDir(),
		l.CertsDir(),
		l.CertsInputsDir(),
		l.LogstashConfDir(),
		l.ThreatFeedsDir(),
		filepath.Dir(l.RedelkConfigFile()),
		filepath.Dir(l.HtpasswdFile()),
		l.C2FilebeatDir(),
		l.RedirFilebeatDir(),
	}
}

// Scaffold creates every directory of the tree.
func (l Layout) Scaffold() error {
	for _, dir := range l.Dirs() {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
