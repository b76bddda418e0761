// Package stack describes the containers that make up a RedELK server:
// what image each runs, whether it belongs to the limited profile, and how
// its liveness is checked from inside the container.
package stack

import (
	"fmt"
	"strings"
)

// Profile selects which services a deployment runs.
type Profile string

const (
	Full    Profile = "full"
	Limited Profile = "limited"
)

// ParseProfile accepts "full" or "limited" in any case.
func ParseProfile(s string) (Profile, error) {
	switch Profile(strings.ToLower(strings.TrimSpace(s))) {
	case Full:
		return Full, nil
	case Limited:
		return Limited, nil
	}
	return "", fmt.Errorf("unknown install type %q (want full or limited)", s)
}

// ComposeFile is the compose definition under elkserver/ for this profile.
func (p Profile) ComposeFile() string {
	return "redelk-" + string(p) + ".yml"
}

// Check is a liveness probe run inside a service container. Arguments may
// reference $VARS which are resolved from the stack's environment before
// the command runs.
type Check struct {
	Command []string
	// JSONKey is a dotted path into the command's JSON output. When set,
	// its value must be one of Healthy.
	JSONKey string
	// Healthy lists accepted values: of JSONKey, or of the trimmed output
	// when JSONKey is empty. Empty means a zero exit status is enough.
	Healthy []string
}

// Service is one container of the stack.
type Service struct {
	Name      string
	Container string
	Image     string // empty for images built from the checkout
	FullOnly  bool
	Core      bool // waited for after start-up
	Check     Check
}

// Built reports whether the image is built locally rather than pulled.
func (s Service) Built() bool {
	return s.Image == ""
}

// Catalogue returns every known service for the given Elastic version.
func Catalogue(elkVersion string) []Service {
	httpCode := []string{"curl", "-s", "-o", "/dev/null", "-w", "%{http_code}"}
	return []Service{
		{
			Name:      "Elasticsearch",
			Container: "redelk-elasticsearch",
			Image:     "docker.elastic.co/elasticsearch/elasticsearch:" + elkVersion,
			Core:      true,
			Check: Check{
				Command: []string{"curl", "-k", "-s", "-u", "elastic:$ELASTIC_PASSWORD", "https://localhost:9200/_cluster/health"},
				JSONKey: "status",
				Healthy: []string{"green", "yellow"},
			},
		},
		{
			Name:      "Logstash",
			Container: "redelk-logstash",
			Image:     "docker.elastic.co/logstash/logstash:" + elkVersion,
			Core:      true,
			Check:     Check{Command: []string{"curl", "-s", "http://localhost:9600"}},
		},
		{
			Name:      "Kibana",
			Container: "redelk-kibana",
			Image:     "docker.elastic.co/kibana/kibana:" + elkVersion,
			Core:      true,
			Check: Check{
				Command: []string{"curl", "-k", "-s", "https://localhost:5601/api/status"},
				JSONKey: "status.overall.level",
				Healthy: []string{"available"},
			},
		},
		{
			Name:      "NGINX",
			Container: "redelk-nginx",
			Check: Check{
				Command: append(append([]string{}, httpCode...), "http://localhost:80"),
				Healthy: []string{"200", "301", "302"},
			},
		},
		{
			Name:      "RedELK Base",
			Container: "redelk-base",
			Check:     Check{Command: []string{"pgrep", "cron"}},
		},
		{
			Name:      "Jupyter",
			Container: "redelk-jupyter",
			FullOnly:  true,
			Check: Check{
				Command: append(append([]string{}, httpCode...), "http://localhost:8888"),
				Healthy: []string{"200", "302"},
			},
		},
		{
			Name:      "Neo4j",
			Container: "redelk-bloodhound-neo4j",
			Image:     "neo4j:4.4",
			FullOnly:  true,
			Check:     Check{Command: []string{"curl", "-s", "http://localhost:7474"}},
		},
		{
			Name:      "PostgreSQL",
			Container: "redelk-bloodhound-postgres",
			Image:     "postgres:16",
			FullOnly:  true,
			Check:     Check{Command: []string{"pg_isready", "-U", "bloodhound"}},
		},
		{
			Name:      "BloodHound",
			Container: "redelk-bloodhound-app",
			Image:     "specterops/bloodhound:latest",
			FullOnly:  true,
			Check: Check{
				Command: append(append([]string{}, httpCode...), "http://localhost:8080"),
				Healthy: []string{"200"},
			},
		},
	}
}

// ForProfile filters the catalogue down to the services a profile runs.
func ForProfile(p Profile, elkVersion string) []Service {
	var out []Service
	for _, s := range Catalogue(elkVersion) {
		if s.FullOnly && p != Full {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Images lists the images to pull for a profile, skipping locally built ones.
func Images(p Profile, elkVersion string) []string {
	var out []string
	for _, s := range ForProfile(p, elkVersion) {
		if !s.Built() {
			out = append(out, s.Image)
		}
	}
	return out
}

// CoreServices are the services the installer waits for after start-up.
func CoreServices(p Profile, elkVersion string) []Service {
	var out []Service
	for _, s := range ForProfile(p, elkVersion) {
		if s.Core {
			out = append(out, s)
		}
	}
	return out
}
