package server

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"redelk/internal/secrets"
)

// envSettings are the inputs of elkserver/.env.
type envSettings struct {
	Config        Config
	Passwords     secrets.Passwords
	ESHeap        string
	LogstashHeap  string
	ElkVersion    string
	RedelkVersion string
}

// logstashHeap grows with the number of team servers shipping logs.
func logstashHeap(teamServers int) string {
	switch {
	case teamServers > 10:
		return "4g"
	case teamServers > 5:
		return "2g"
	}
	return "1g"
}

func envValue(v string) string {
	if v == "" || strings.ContainsAny(v, " \t#\"'$\\") {
		return strconv.Quote(v)
	}
	return v
}

// renderEnv produces the dotenv file docker compose reads.
func renderEnv(s envSettings) []byte {
	c := s.Config
	pairs := [][2]string{
		{"COMPOSE_PROJECT_NAME", "redelk"},
		{"ELK_VERSION", s.ElkVersion},
		{"REDELK_VERSION", s.RedelkVersion},
		{"INSTALL_TYPE", string(c.InstallType)},
		{"EXTERNAL_DOMAIN", c.ServerAddress},
		{"PROJECT_NAME", c.ProjectName},
		{"TEAM_SERVERS", strconv.Itoa(c.TeamServers)},
		{"ES_MEMORY", s.ESHeap},
		{"LS_MEMORY", s.LogstashHeap},
		{"LETSENCRYPT_ENABLED", strconv.FormatBool(c.UseLetsEncrypt)},
		{"LETSENCRYPT_EMAIL", c.LetsEncryptEmail},
		{"LETSENCRYPT_STAGING", strconv.FormatBool(c.LetsEncryptStaging)},
		{"LOGSTASH_ELASTIC_USERNAME", secrets.LogstashUser},
		{"REDELK_OPERATOR_USERNAME", secrets.OperatorUser},
	}
	for _, cred := range secrets.Manifest {
		pairs = append(pairs, [2]string{cred.Key, s.Passwords.Get(cred.Key)})
	}

	var b strings.Builder
	b.WriteString("# Generated by redelk-install. Re-running the installer rewrites this file.\n")
	for _, kv := range pairs {
		fmt.Fprintf(&b, "%s=%s\n", kv[0], envValue(kv[1]))
	}
	return []byte(b.String())
}

type channel struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

type alarm struct {
	Enabled  bool   `json:"enabled"`
	Interval int    `json:"interval"`
	Notify   string `json:"notifications,omitempty"`
}

type redelkConfig struct {
	Project       string             `json:"project_name"`
	Server        string             `json:"server_address"`
	InstallType   string             `json:"install_type"`
	ESConnection  []string           `json:"es_connection"`
	Notifications map[string]channel `json:"notifications"`
	Alarms        map[string]alarm   `json:"alarms"`
	Enrichments   map[string]alarm   `json:"enrich"`
}

// renderRedelkConfig produces redelk-config/etc/redelk/config.json.
func renderRedelkConfig(c Config) ([]byte, error) {
	notify := strings.ToLower(strings.ReplaceAll(strings.Join(c.Notifications.List(), ","), " ", ""))
	cfg := redelkConfig{
		Project:      c.ProjectName,
		Server:       c.ServerAddress,
		InstallType:  string(c.InstallType),
		ESConnection: []string{"https://redelk-elasticsearch:9200"},
		Notifications: map[string]channel{
			"email":   {Enabled: c.Notifications.Email},
			"slack":   {Enabled: c.Notifications.Slack},
			"msteams": {Enabled: c.Notifications.MSTeams},
		},
		Alarms: map[string]alarm{
			"alarm_httptraffic":  {Enabled: true, Interval: 300, Notify: notify},
			"alarm_filehash":     {Enabled: true, Interval: 300, Notify: notify},
			"alarm_manual":       {Enabled: true, Interval: 300, Notify: notify},
			"alarm_backendalarm": {Enabled: true, Interval: 300, Notify: notify},
		},
		Enrichments: map[string]alarm{
			"enrich_csbeacon":     {Enabled: true, Interval: 300},
			"enrich_greynoise":    {Enabled: true, Interval: 310},
			"enrich_tor":          {Enabled: true, Interval: 360},
			"enrich_iplists":      {Enabled: true, Interval: 330},
			"enrich_synczerologs": {Enabled: true, Interval: 400},
		},
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal config.json: %w", err)
	}
	return append(data, '\n'), nil
}
