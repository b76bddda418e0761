package routing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// TemplatePrefix names the index templates RedELK owns.
const TemplatePrefix = "redelk-"

const templatePriority = 200

// IndexTemplate is a composable Elasticsearch index template.
type IndexTemplate struct {
	Name string
	Body []byte
}

// keywordFields are mapped as keyword on every RedELK index so routing
// and dashboards can filter and aggregate on them.
var keywordFields = []string{
	"infra.log.type",
	"infra.name",
	"infra.attack_scenario",
	"role",
	"c2.program",
	"c2.log.type",
	"c2.operator",
	"redir.program",
	"tags",
}

// indexKeywords adds fields specific to one index.
var indexKeywords = map[string][]string{
	"rtops": {
		"beacon.id",
		"beacon.hostname",
		"beacon.user",
		"beacon.internal_ip",
		"beacon.external_ip",
		"beacon.process",
		"beacon.command",
	},
	"redirtraffic": {
		"redir.frontend.name",
		"redir.backend.name",
		"http.request.method",
		"threat.feed",
	},
	"ioc": {
		"ioc.type",
		"ioc.hash",
		"ioc.name",
	},
}

// properties turns dotted field names into nested mapping objects.
func properties(fields []string) map[string]any {
	root := map[string]any{
		"@timestamp": map[string]any{"type": "date"},
	}
	for _, f := range fields {
		cur := root
		parts := strings.Split(f, ".")
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(map[string]any)
			if !ok {
				next = map[string]any{"properties": map[string]any{}}
				cur[p] = next
			}
			cur = next["properties"].(map[string]any)
		}
		cur[parts[len(parts)-1]] = map[string]any{"type": "keyword"}
	}
	return root
}

// RenderIndexTemplates builds one template per destination index of rs,
// the catch-all included, in name order.
func RenderIndexTemplates(rs *RuleSet) ([]IndexTemplate, error) {
	indices := map[string]bool{rs.DefaultIndex: true}
	for _, r := range rs.Rules {
		indices[r.Index] = true
	}
	names := make([]string, 0, len(indices))
	for name := range indices {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []IndexTemplate
	for _, index := range names {
		fields := append(append([]string{}, keywordFields...), indexKeywords[index]...)
		body, err := json.MarshalIndent(map[string]any{
			"index_patterns": []string{index + "-*"},
			"priority":       templatePriority,
			"template": map[string]any{
				"mappings": map[string]any{"properties": properties(fields)},
			},
			"_meta": map[string]any{"managed_by": "redelk"},
		}, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("render index template %s: %w", index, err)
		}
		out = append(out, IndexTemplate{Name: TemplatePrefix + index, Body: body})
	}
	return out, nil
}

// WriteIndexTemplates renders the templates into dir as <name>.json.
func WriteIndexTemplates(dir string, rs *RuleSet) ([]string, error) {
	templates, err := RenderIndexTemplates(rs)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create index template dir: %w", err)
	}
	var written []string
	for _, t := range templates {
		path := filepath.Join(dir, t.Name+".json")
		if err := os.WriteFile(path, append(t.Body, '\n'), 0644); err != nil {
			return written, fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

// LoadIndexTemplates reads the templates WriteIndexTemplates produced.
func LoadIndexTemplates(dir string) ([]IndexTemplate, error) {
	paths, err := filepath.Glob(filepath.Join(dir, TemplatePrefix+"*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make([]IndexTemplate, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read index template: %w", err)
		}
		if !json.Valid(data) {
			return nil, fmt.Errorf("index template %s: invalid JSON", p)
		}
		out = append(out, IndexTemplate{Name: strings.TrimSuffix(filepath.Base(p), ".json"), Body: data})
	}
	return out, nil
}
