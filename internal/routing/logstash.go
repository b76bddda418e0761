package routing

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// Logstash pipeline files written by WriteLogstashConfig.
const (
	ThreatDetectionFile = "70-detection-threats.conf"
	TargetIndexFile     = "80-target-index.conf"
	OutputsFile         = "90-outputs.conf"
)

// Paths inside the Logstash container.
const (
	DefaultThreatDictionary = "/usr/share/logstash/config/threat-feeds/threat-feeds.yml"
	DefaultElasticCA        = "/usr/share/logstash/config/certs_inputs/redelkCA.crt"
)

// OutputConfig parameterises the Elasticsearch output stage.
type OutputConfig struct {
	Hosts  []string
	CACert string
}

// DefaultOutputConfig points at the compose stack's Elasticsearch container.
func DefaultOutputConfig() OutputConfig {
	return OutputConfig{
		Hosts:  []string{"https://redelk-elasticsearch:9200"},
		CACert: DefaultElasticCA,
	}
}

// fieldRef turns infra.log.type into [infra][log][type].
func fieldRef(path string) string {
	return "[" + strings.ReplaceAll(path, ".", "][") + "]"
}

var goToJoda = strings.NewReplacer("2006", "YYYY", "01", "MM", "02", "dd", "15", "HH")

// logstashDate converts a Go date layout to the sprintf date pattern
// Logstash uses in %{+...}. Only year, month, day and hour are supported.
func logstashDate(layout string) (string, error) {
	out := goToJoda.Replace(layout)
	if strings.ContainsAny(out, "0123456789") {
		return "", fmt.Errorf("unsupported date format %q", layout)
	}
	return out, nil
}

func quoteList(values []string) string {
	q := make([]string, len(values))
	for i, v := range values {
		q[i] = fmt.Sprintf("%q", v)
	}
	return strings.Join(q, ", ")
}

// condition renders the Logstash test for one rule. A single value uses
// ==; "in" with a one-element array is a substring match in Logstash.
func condition(r Rule) string {
	if len(r.Values) == 1 {
		return fmt.Sprintf("%s == %q", fieldRef(r.Field), r.Values[0])
	}
	return fmt.Sprintf("%s in [%s]", fieldRef(r.Field), quoteList(r.Values))
}

// RenderTargetIndex renders the filter stage choosing the target index.
func RenderTargetIndex(rs *RuleSet) ([]byte, error) {
	date, err := logstashDate(rs.DateFormat)
	if err != nil {
		return nil, err
	}
	setIndex := func(indent, index string) string {
		return fmt.Sprintf("%smutate { add_field => { \"[@metadata][target_index]\" => \"%s-%%{+%s}\" } }\n", indent, index, date)
	}

	var b strings.Builder
	b.WriteString("# Managed by redelk-route. Sets [@metadata][target_index] for " + OutputsFile + ".\n")
	b.WriteString("filter {\n")
	if len(rs.Rules) == 0 {
		b.WriteString(setIndex("  ", rs.DefaultIndex))
	} else {
		for i, r := range rs.Rules {
			if i == 0 {
				fmt.Fprintf(&b, "  if %s {\n", condition(r))
			} else {
				fmt.Fprintf(&b, "  } else if %s {\n", condition(r))
			}
			b.WriteString(setIndex("    ", r.Index))
		}
		b.WriteString("  } else {\n")
		b.WriteString(setIndex("    ", rs.DefaultIndex))
		b.WriteString("  }\n")
	}
	b.WriteString("}\n")
	return []byte(b.String()), nil
}

var outputsTmpl = template.Must(template.New("outputs").Parse(`# Managed by redelk-route.
output {
  elasticsearch {
    hosts => [{{.Hosts}}]
    index => "%{[@metadata][target_index]}"
    user => "${LOGSTASH_ELASTIC_USERNAME}"
    password => "${LOGSTASH_ELASTIC_PASSWORD}"
    ssl_enabled => true
    ssl_certificate_authorities => ["{{.CACert}}"]
    manage_template => false
  }
}
`))

// RenderOutputs renders the Elasticsearch output stage.
func RenderOutputs(cfg OutputConfig) ([]byte, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("render outputs: no elasticsearch hosts")
	}
	var buf bytes.Buffer
	err := outputsTmpl.Execute(&buf, struct {
		Hosts  string
		CACert string
	}{quoteList(cfg.Hosts), cfg.CACert})
	if err != nil {
		return nil, fmt.Errorf("render outputs: %w", err)
	}
	return buf.Bytes(), nil
}

var threatTmpl = template.Must(template.New("threats").Parse(`# Managed by redelk-route. Dictionary maintained by redelk-feeds.
filter {
  if {{.Type}} == "redirtraffic" {
    translate {
      source => "[source][ip]"
      target => "[threat][feed]"
      dictionary_path => "{{.Dict}}"
      refresh_interval => 3600
    }
  } else if {{.Type}} == "rtops" and [c2][log][type] == "beacon" {
    translate {
      source => "[host][ip_ext]"
      target => "[threat][feed]"
      dictionary_path => "{{.Dict}}"
      refresh_interval => 3600
    }
  }
  if [threat][feed] {
    mutate { add_tag => ["threat_feed_hit", "iplist_%{[threat][feed]}"] }
  }
}
`))

// RenderThreatDetection renders the filter tagging redirector traffic and
// beacon check-ins whose address appears in the threat-feed dictionary.
func RenderThreatDetection(rs *RuleSet, dictPath string) ([]byte, error) {
	if dictPath == "" {
		dictPath = DefaultThreatDictionary
	}
	var buf bytes.Buffer
	err := threatTmpl.Execute(&buf, struct {
		Type string
		Dict string
	}{fieldRef(rs.Field), dictPath})
	if err != nil {
		return nil, fmt.Errorf("render threat detection: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteLogstashConfig renders all three pipeline files into dir.
func WriteLogstashConfig(dir string, rs *RuleSet, out OutputConfig, dictPath string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create logstash conf dir: %w", err)
	}

	threats, err := RenderThreatDetection(rs, dictPath)
	if err != nil {
		return nil, err
	}
	target, err := RenderTargetIndex(rs)
	if err != nil {
		return nil, err
	}
	outputs, err := RenderOutputs(out)
	if err != nil {
		return nil, err
	}

	files := []struct {
		name string
		data []byte
	}{
		{ThreatDetectionFile, threats},
		{TargetIndexFile, target},
		{OutputsFile, outputs},
	}
	var written []string
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, f.data, 0644); err != nil {
			return written, fmt.Errorf("write %s: %w", f.name, err)
		}
		written = append(written, path)
	}
	return written, nil
}
