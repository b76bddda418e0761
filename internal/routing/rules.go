// Package routing decides which Elasticsearch index a RedELK event lands
// in. A record's nested log-type field selects the destination
// "<index>-<date>"; records no rule claims go to a catch-all index. The
// same rule set renders the Logstash filter and output stages that apply
// the decision inside the pipeline.
package routing

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultField is the nested field carrying the record type.
	DefaultField = "infra.log.type"
	// DefaultCatchAll receives records no rule matches.
	DefaultCatchAll = "redelk-unclassified"
	// DefaultDateFormat yields daily indices, e.g. rtops-2024.03.15.
	DefaultDateFormat = "2006.01.02"
)

var indexNameRE = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Rule routes records whose Field equals one of Values to Index.
type Rule struct {
	Name   string   `yaml:"name,omitempty"`
	Field  string   `yaml:"field,omitempty"`
	Values []string `yaml:"values"`
	Index  string   `yaml:"index"`
}

// RuleSet is an ordered list of rules plus the catch-all destination.
// The first matching rule wins.
type RuleSet struct {
	Field        string `yaml:"field,omitempty"`
	DefaultIndex string `yaml:"default_index,omitempty"`
	DateFormat   string `yaml:"date_format,omitempty"`
	Rules        []Rule `yaml:"rules"`
}

// KnownTypes are the record types RedELK ships indices for.
var KnownTypes = []string{"rtops", "redirtraffic", "redirerror", "credentials", "ioc", "screenshots"}

// DefaultRules routes every known record type to the index of the same name.
func DefaultRules() *RuleSet {
	rs := &RuleSet{
		Field:        DefaultField,
		DefaultIndex: DefaultCatchAll,
		DateFormat:   DefaultDateFormat,
	}
	for _, t := range KnownTypes {
		rs.Rules = append(rs.Rules, Rule{Name: t, Values: []string{t}, Index: t})
	}
	rs.applyDefaults()
	return rs
}

// LoadRules reads a rule set from a YAML file and validates it.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routing rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a YAML rule set.
func ParseRules(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse routing rules: %w", err)
	}
	rs.applyDefaults()
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

func (rs *RuleSet) applyDefaults() {
	if rs.Field == "" {
		rs.Field = DefaultField
	}
	if rs.DefaultIndex == "" {
		rs.DefaultIndex = DefaultCatchAll
	}
	if rs.DateFormat == "" {
		rs.DateFormat = DefaultDateFormat
	}
	for i := range rs.Rules {
		if rs.Rules[i].Field == "" {
			rs.Rules[i].Field = rs.Field
		}
		if rs.Rules[i].Name == "" {
			rs.Rules[i].Name = rs.Rules[i].Index
		}
	}
}

// Validate checks every rule has a field, values and a legal index name.
func (rs *RuleSet) Validate() error {
	if !indexNameRE.MatchString(rs.DefaultIndex) {
		return fmt.Errorf("invalid default index %q", rs.DefaultIndex)
	}
	if _, err := logstashDate(rs.DateFormat); err != nil {
		return err
	}
	for i, r := range rs.Rules {
		if r.Field == "" {
			return fmt.Errorf("rule %d (%s): missing field", i, r.Name)
		}
		if len(r.Values) == 0 {
			return fmt.Errorf("rule %d (%s): no values", i, r.Name)
		}
		if !indexNameRE.MatchString(r.Index) {
			return fmt.Errorf("rule %d (%s): invalid index name %q", i, r.Name, r.Index)
		}
	}
	return nil
}

// Indices lists every destination the rule set can produce, catch-all last.
func (rs *RuleSet) Indices() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rs.Rules {
		if !seen[r.Index] {
			seen[r.Index] = true
			out = append(out, r.Index)
		}
	}
	if !seen[rs.DefaultIndex] {
		out = append(out, rs.DefaultIndex)
	}
	return out
}

// WriteRules saves rs as YAML so operators can edit it.
func WriteRules(path string, rs *RuleSet) error {
	data, err := yaml.Marshal(rs)
	if err != nil {
		return fmt.Errorf("marshal routing rules: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create rules directory: %w", err)
	}
	if err := os.WriteFile(path, append([]byte("# RedELK event routing rules. First match wins.\n"), data...), 0644); err != nil {
		return fmt.Errorf("write routing rules: %w", err)
	}
	return nil
}
