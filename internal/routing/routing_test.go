package routing

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 15, 23, 30, 0, 0, time.FixedZone("CET", 3600))

func record(logType any) map[string]any {
	return map[string]any{
		"message": "beacon checkin",
		"infra":   map[string]any{"log": map[string]any{"type": logType}},
	}
}

func TestClassifyKnownTypes(t *testing.T) {
	rs := DefaultRules()
	for _, typ := range KnownTypes {
		t.Run(typ, func(t *testing.T) {
			got := rs.Classify(record(typ), fixedNow)
			assert.Equal(t, typ+"-2024.03.15", got.Name)
			assert.Equal(t, typ, got.Index)
			assert.True(t, got.Matched())
		})
	}
}

func TestClassifyCatchAll(t *testing.T) {
	rs := DefaultRules()
	tests := []struct {
		name   string
		record map[string]any
	}{
		{"unknown type", record("beaconlogs")},
		{"missing field", map[string]any{"message": "x"}},
		{"non-string value", record(42)},
		{"partial path", map[string]any{"infra": map[string]any{"log": "rtops"}}},
		{"case differs", record("RTOPS")},
		{"nil record", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rs.Classify(tt.record, fixedNow)
			assert.Equal(t, "redelk-unclassified-2024.03.15", got.Name)
			assert.False(t, got.Matched())
		})
	}
}

func TestClassifyUsesUTC(t *testing.T) {
	rs := DefaultRules()
	// 00:30 CET on the 16th is still the 15th in UTC.
	now := time.Date(2024, 3, 16, 0, 30, 0, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "rtops-2024.03.15", rs.Classify(record("rtops"), now).Name)
}

func TestClassifyFlatKey(t *testing.T) {
	rs := DefaultRules()
	got := rs.Classify(map[string]any{"infra.log.type": "ioc"}, fixedNow)
	assert.Equal(t, "ioc-2024.03.15", got.Name)
}

func TestClassifyFirstMatchWins(t *testing.T) {
	rs, err := ParseRules([]byte(`
rules:
  - name: traffic
    values: [redirtraffic, redirerror]
    index: redirs
  - name: errors-only
    values: [redirerror]
    index: redirerror
`))
	require.NoError(t, err)
	got := rs.Classify(record("redirerror"), fixedNow)
	assert.Equal(t, "redirs-2024.03.15", got.Name)
	assert.Equal(t, "traffic", got.Rule)
}

func TestClassifyDeterministic(t *testing.T) {
	rs := DefaultRules()
	r := record("credentials")
	first := rs.Classify(r, fixedNow)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, rs.Classify(r, fixedNow))
	}
}

func TestAnnotate(t *testing.T) {
	rs := DefaultRules()
	r := record("screenshots")
	r["@metadata"] = map[string]any{"beat": "filebeat"}

	got := rs.Annotate(r, fixedNow)
	meta := r["@metadata"].(map[string]any)
	assert.Equal(t, "screenshots-2024.03.15", meta["target_index"])
	assert.Equal(t, "filebeat", meta["beat"])
	assert.Equal(t, got.Name, meta["target_index"])

	bare := map[string]any{}
	rs.Annotate(bare, fixedNow)
	assert.Equal(t, "redelk-unclassified-2024.03.15", bare["@metadata"].(map[string]any)["target_index"])
}

func TestParseRulesValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no values", "rules:\n  - index: rtops\n"},
		{"bad index", "rules:\n  - values: [rtops]\n    index: RTOPS\n"},
		{"bad default", "default_index: 'has space'\nrules: []\n"},
		{"bad date", "date_format: '2006.01.02 15:04'\nrules: []\n"},
		{"not yaml", "rules: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestLoadRulesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - values: [ioc]\n    index: ioc\n"), 0644))

	rs, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultField, rs.Rules[0].Field)
	assert.Equal(t, "ioc", rs.Rules[0].Name)
	assert.Equal(t, DefaultCatchAll, rs.DefaultIndex)
	assert.Equal(t, []string{"ioc", DefaultCatchAll}, rs.Indices())
}

func TestRenderTargetIndex(t *testing.T) {
	out, err := RenderTargetIndex(DefaultRules())
	require.NoError(t, err)
	conf := string(out)

	assert.Contains(t, conf, "[@metadata][target_index]")
	for _, typ := range KnownTypes {
		assert.Contains(t, conf, `[infra][log][type] == "`+typ+`"`)
		assert.Contains(t, conf, typ+"-%{+YYYY.MM.dd}")
	}
	assert.Contains(t, conf, "} else {")
	assert.Contains(t, conf, "redelk-unclassified-%{+YYYY.MM.dd}")
	assert.Equal(t, strings.Count(conf, "{"), strings.Count(conf, "}"), "balanced braces")
}

func TestRenderTargetIndexMultiValue(t *testing.T) {
	rs, err := ParseRules([]byte("rules:\n  - values: [redirtraffic, redirerror]\n    index: redirs\n"))
	require.NoError(t, err)
	out, err := RenderTargetIndex(rs)
	require.NoError(t, err)
	assert.Contains(t, string(out), `[infra][log][type] in ["redirtraffic", "redirerror"]`)
}

func TestRenderTargetIndexNoRules(t *testing.T) {
	rs, err := ParseRules([]byte("rules: []\n"))
	require.NoError(t, err)
	out, err := RenderTargetIndex(rs)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "if ")
	assert.Contains(t, string(out), "redelk-unclassified-%{+YYYY.MM.dd}")
}

func TestRenderOutputs(t *testing.T) {
	out, err := RenderOutputs(DefaultOutputConfig())
	require.NoError(t, err)
	conf := string(out)
	assert.Contains(t, conf, "%{[@metadata][target_index]}")
	assert.Contains(t, conf, "${LOGSTASH_ELASTIC_USERNAME}")
	assert.Contains(t, conf, "${LOGSTASH_ELASTIC_PASSWORD}")
	assert.Contains(t, conf, `hosts => ["https://redelk-elasticsearch:9200"]`)

	_, err = RenderOutputs(OutputConfig{})
	require.Error(t, err)
}

func TestRenderThreatDetection(t *testing.T) {
	out, err := RenderThreatDetection(DefaultRules(), "")
	require.NoError(t, err)
	conf := string(out)
	assert.Contains(t, conf, "infra][log][type")
	assert.Contains(t, conf, "rtops")
	assert.Contains(t, conf, "redirtraffic")
	assert.Contains(t, conf, DefaultThreatDictionary)
}

func TestWriteLogstashConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "conf.d")
	files, err := WriteLogstashConfig(dir, DefaultRules(), DefaultOutputConfig(), "")
	require.NoError(t, err)
	require.Len(t, files, 3)
	for _, name := range []string{ThreatDetectionFile, TargetIndexFile, OutputsFile} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
}

func TestClassifyStream(t *testing.T) {
	in := strings.Join([]string{
		`{"infra":{"log":{"type":"rtops"}}}`,
		`not json`,
		``,
		`{"infra":{"log":{"type":"redirtraffic"}}}`,
		`{"other":true}`,
	}, "\n")

	var out bytes.Buffer
	stats, err := DefaultRules().ClassifyStream(strings.NewReader(in), &out, StreamOptions{
		Now: func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Records)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, map[string]int{"rtops": 1, "redirtraffic": 1, "redelk-unclassified": 1}, stats.ByIndex)
	assert.Equal(t, "rtops-2024.03.15\nredirtraffic-2024.03.15\nredelk-unclassified-2024.03.15\n", out.String())
}

func TestClassifyStreamAnnotate(t *testing.T) {
	var out bytes.Buffer
	_, err := DefaultRules().ClassifyStream(strings.NewReader(`{"infra":{"log":{"type":"ioc"}}}`), &out, StreamOptions{
		Annotate: true,
		Now:      func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"infra":{"log":{"type":"ioc"}},"@metadata":{"target_index":"ioc-2024.03.15"}}`, out.String())
}

func TestWriteRulesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "routing.yml")
	require.NoError(t, WriteRules(path, DefaultRules()))

	rs, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), rs)
}
