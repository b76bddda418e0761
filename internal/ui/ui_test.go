package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlainOutputWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)

	p.Success("filebeat installed")
	p.Warn("low disk space: %d GB", 12)
	p.Fail("docker not running")

	out := buf.String()
	assert.Contains(t, out, "✓ filebeat installed")
	assert.Contains(t, out, "! low disk space: 12 GB")
	assert.Contains(t, out, "✗ docker not running")
	assert.NotContains(t, out, "\x1b[", "no ANSI escapes for non-terminal writers")
}

func TestStep(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Step(2, 9, "Installing dependencies")
	assert.Contains(t, buf.String(), "[2/9] Installing dependencies")
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Table([]string{"Service", "Status"}, [][]string{
		{"Elasticsearch", "healthy"},
		{"Kibana", "not running"},
	})
	out := buf.String()
	assert.Contains(t, out, "Service")
	assert.Contains(t, out, "Elasticsearch")
	assert.Contains(t, out, "not running")
}

func TestKeyValuesAligned(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).KeyValues([][2]string{{"Role", "c2"}, {"Server", "10.0.0.5"}})
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Equal(t, strings.Index(lines[0], "c2"), strings.Index(lines[1], "10.0.0.5"))
}

func TestPanelAndBanner(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)
	p.Banner("RedELK Installer", "v3.0.0")
	p.Panel("Access", "Kibana: https://10.0.0.5/")
	out := buf.String()
	assert.Contains(t, out, "RedELK Installer")
	assert.Contains(t, out, "Kibana: https://10.0.0.5/")
}
