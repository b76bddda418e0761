// Package agent installs and configures Filebeat on offense
// infrastructure so its logs reach the RedELK server.
package agent

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Role is the kind of host the agent runs on.
type Role string

const (
	RoleC2         Role = "c2"
	RoleRedirector Role = "redirector"
)

// ParseRole accepts c2 or redirector.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleC2:
		return RoleC2, nil
	case RoleRedirector, "redir":
		return RoleRedirector, nil
	}
	return "", fmt.Errorf("unknown agent role %q (want c2 or redirector)", s)
}

// Placeholders left in templates when a value is not known yet.
const (
	PlaceholderServer   = "REDELK_HOST"
	PlaceholderName     = "REDELK_INFRA_NAME"
	PlaceholderScenario = "REDELK_SCENARIO"
)

// Defaults.
const (
	DefaultScenario = "operation-redteam"
	DefaultPort     = 5044
	DefaultCAPath   = "/etc/filebeat/redelkCA.crt"
)

// source is one group of log files with the record type they carry.
type source struct {
	logType string
	suffix  string
	paths   []string
}

// program is a C2 framework or redirector web server we ship logs for.
type program struct {
	role    Role
	sources []source
}

var programs = map[string]program{
	"cobaltstrike": {RoleC2, []source{
		{logType: "rtops", paths: []string{"/var/log/cobaltstrike/*.log", "/opt/cobaltstrike/logs/*.log"}},
	}},
	"sliver": {RoleC2, []source{
		{logType: "rtops", paths: []string{"/var/log/sliver/*.log", "/root/.sliver/logs/*.log"}},
	}},
	"apache": {RoleRedirector, []source{
		{logType: "redirtraffic", paths: []string{"/var/log/apache2/access*.log", "/var/log/apache2/ssl_access*.log"}},
		{logType: "redirerror", suffix: "error", paths: []string{"/var/log/apache2/error*.log"}},
	}},
	"nginx": {RoleRedirector, []source{
		{logType: "redirtraffic", paths: []string{"/var/log/nginx/access*.log"}},
		{logType: "redirerror", suffix: "error", paths: []string{"/var/log/nginx/error*.log"}},
	}},
	"haproxy": {RoleRedirector, []source{
		{logType: "redirtraffic", paths: []string{"/var/log/haproxy.log"}},
	}},
}

// Programs returns the supported programs of a role in stable order.
func Programs(role Role) []string {
	switch role {
	case RoleC2:
		return []string{"cobaltstrike", "sliver"}
	case RoleRedirector:
		return []string{"apache", "nginx", "haproxy"}
	}
	return nil
}

// AllowedLogTypes lists the infra.log.type values a role may emit.
func AllowedLogTypes(role Role) []string {
	if role == RoleC2 {
		return []string{"rtops"}
	}
	return []string{"redirtraffic", "redirerror"}
}

// RoleField is the value of the top-level role field events carry so
// the pipeline can tell redirector traffic from C2 logs.
func RoleField(role Role) string {
	if role == RoleC2 {
		return "c2"
	}
	return "redir"
}

// Config is what the wizard collects.
type Config struct {
	Role           Role
	Hostname       string
	AttackScenario string
	Server         string
	Port           int
	CAPath         string
	Programs       []string // empty means every program of the role
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.Hostname == "" {
		if h, err := os.Hostname(); err == nil {
			c.Hostname = h
		} else {
			c.Hostname = "unknown"
		}
	}
	if c.AttackScenario == "" {
		c.AttackScenario = DefaultScenario
	}
	if c.Server == "" {
		c.Server = PlaceholderServer
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.CAPath == "" {
		c.CAPath = DefaultCAPath
	}
	if len(c.Programs) == 0 {
		c.Programs = Programs(c.Role)
	}
	return c
}

// Validate checks the role, port and programs.
func (c Config) Validate() error {
	if _, err := ParseRole(string(c.Role)); err != nil {
		return err
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid logstash port %d", c.Port)
	}
	for _, name := range c.Programs {
		p, ok := programs[name]
		if !ok {
			return fmt.Errorf("unknown program %q", name)
		}
		if p.role != c.Role {
			return fmt.Errorf("program %s does not run on a %s", name, c.Role)
		}
	}
	return nil
}

// Endpoint is the Logstash beats input this agent ships to.
func (c Config) Endpoint() string {
	return c.Server + ":" + strconv.Itoa(c.Port)
}

type filebeatConfig struct {
	Inputs     []input          `yaml:"filebeat.inputs"`
	Processors []map[string]any `yaml:"processors"`
	Output     logstashOutput   `yaml:"output.logstash"`
	Level      string           `yaml:"logging.level"`
	ToFiles    bool             `yaml:"logging.to_files"`
	Files      loggingFiles     `yaml:"logging.files"`
}

type input struct {
	Type            string      `yaml:"type"`
	ID              string      `yaml:"id"`
	Enabled         bool        `yaml:"enabled"`
	Paths           []string    `yaml:"paths"`
	FieldsUnderRoot bool        `yaml:"fields_under_root"`
	Fields          inputFields `yaml:"fields"`
}

type inputFields struct {
	Infra infraFields   `yaml:"infra"`
	C2    *programField `yaml:"c2,omitempty"`
	Redir *programField `yaml:"redir,omitempty"`
}

type infraFields struct {
	Name           string   `yaml:"name"`
	AttackScenario string   `yaml:"attack_scenario"`
	Log            logField `yaml:"log"`
}

type logField struct {
	Type string `yaml:"type"`
}

type programField struct {
	Program string `yaml:"program"`
}

type logstashOutput struct {
	Hosts           []string `yaml:"hosts"`
	SSLEnabled      bool     `yaml:"ssl.enabled"`
	SSLAuthorities  []string `yaml:"ssl.certificate_authorities"`
	SSLVerification string   `yaml:"ssl.verification_mode"`
}

type loggingFiles struct {
	Path        string `yaml:"path"`
	Name        string `yaml:"name"`
	KeepFiles   int    `yaml:"keepfiles"`
	Permissions octal  `yaml:"permissions"`
}

// octal marshals as a YAML 1.1 octal literal, the form Filebeat documents.
type octal uint32

func (o octal) MarshalYAML() (any, error) {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprintf("0%o", uint32(o))}, nil
}

// RenderFilebeat produces filebeat.yml for cfg. Every input nests its
// classification under infra.* with fields_under_root, and the Logstash
// output always uses TLS pinned to cfg.CAPath.
func RenderFilebeat(cfg Config) ([]byte, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fc := filebeatConfig{
		Output: logstashOutput{
			Hosts:           []string{cfg.Endpoint()},
			SSLEnabled:      true,
			SSLAuthorities:  []string{cfg.CAPath},
			SSLVerification: "certificate",
		},
		Level:   "info",
		ToFiles: true,
		Files: loggingFiles{
			Path:        "/var/log/filebeat",
			Name:        "filebeat",
			KeepFiles:   7,
			Permissions: 0644,
		},
	}

	tags := []string{"redelk"}
	for _, name := range cfg.Programs {
		tags = append(tags, name)
		for _, src := range programs[name].sources {
			id := "redelk-" + name
			if src.suffix != "" {
				id += "-" + src.suffix
			}
			in := input{
				Type:            "filestream",
				ID:              id,
				Enabled:         true,
				Paths:           src.paths,
				FieldsUnderRoot: true,
				Fields: inputFields{Infra: infraFields{
					Name:           cfg.Hostname,
					AttackScenario: cfg.AttackScenario,
					Log:            logField{Type: src.logType},
				}},
			}
			if cfg.Role == RoleC2 {
				in.Fields.C2 = &programField{Program: name}
			} else {
				in.Fields.Redir = &programField{Program: name}
			}
			fc.Inputs = append(fc.Inputs, in)
		}
	}
	fc.Processors = []map[string]any{
		{"add_tags": map[string]any{"tags": tags}},
		{"add_fields": map[string]any{
			"target": "",
			"fields": map[string]any{"role": RoleField(cfg.Role)},
		}},
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# RedELK Filebeat configuration (%s)\n", cfg.Role)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(fc); err != nil {
		return nil, fmt.Errorf("encode filebeat config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode filebeat config: %w", err)
	}
	return buf.Bytes(), nil
}
