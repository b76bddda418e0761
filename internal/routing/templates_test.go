package routing

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mappingType(t *testing.T, body []byte, path ...string) any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(body, &doc))
	cur := doc["template"].(map[string]any)["mappings"].(map[string]any)
	for _, p := range path {
		props, ok := cur["properties"].(map[string]any)
		if !ok {
			return nil
		}
		next, ok := props[p].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur["type"]
}

func TestRenderIndexTemplates(t *testing.T) {
	templates, err := RenderIndexTemplates(DefaultRules())
	require.NoError(t, err)

	var names []string
	byName := map[string][]byte{}
	for _, tmpl := range templates {
		names = append(names, tmpl.Name)
		byName[tmpl.Name] = tmpl.Body
	}
	assert.Equal(t, []string{
		"redelk-credentials", "redelk-ioc", "redelk-redelk-unclassified", "redelk-redirerror",
		"redelk-redirtraffic", "redelk-rtops", "redelk-screenshots",
	}, names)

	rtops := byName["redelk-rtops"]
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rtops, &doc))
	assert.Equal(t, []any{"rtops-*"}, doc["index_patterns"])

	tests := []struct {
		path []string
		want any
	}{
		{[]string{"infra", "log", "type"}, "keyword"},
		{[]string{"beacon", "id"}, "keyword"},
		{[]string{"beacon", "hostname"}, "keyword"},
		{[]string{"role"}, "keyword"},
		{[]string{"@timestamp"}, "date"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mappingType(t, rtops, tt.path...), tt.path)
	}

	redir := byName["redelk-redirtraffic"]
	assert.Equal(t, "keyword", mappingType(t, redir, "infra", "log", "type"))
	assert.Nil(t, mappingType(t, redir, "beacon", "id"))
}

func TestIndexTemplatesFollowCustomRules(t *testing.T) {
	rs, err := ParseRules([]byte("default_index: misc\nrules:\n  - values: [rtops, ioc]\n    index: ops\n"))
	require.NoError(t, err)

	templates, err := RenderIndexTemplates(rs)
	require.NoError(t, err)
	require.Len(t, templates, 2)
	assert.Equal(t, "redelk-misc", templates[0].Name)
	assert.Equal(t, "redelk-ops", templates[1].Name)
}

func TestWriteAndLoadIndexTemplates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index-templates")
	written, err := WriteIndexTemplates(dir, DefaultRules())
	require.NoError(t, err)
	require.Len(t, written, len(KnownTypes)+1)

	// Unrelated files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("x"), 0644))

	loaded, err := LoadIndexTemplates(dir)
	require.NoError(t, err)
	require.Len(t, loaded, len(written))
	assert.Equal(t, "redelk-credentials", loaded[0].Name)
	assert.True(t, json.Valid(loaded[0].Body))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "redelk-broken.json"), []byte("{"), 0644))
	_, err = LoadIndexTemplates(dir)
	require.Error(t, err)
}
