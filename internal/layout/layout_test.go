package layout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaths(t *testing.T) {
	l := New("/opt/redelk")
	assert.Equal(t, "/opt/redelk/elkserver/.env", l.EnvFile())
	assert.Equal(t, "/opt/redelk/elkserver/logstash/threat-feeds", l.ThreatFeedsDir())
	assert.Equal(t, "/opt/redelk/elkserver/mounts/logstash-config/certs_inputs", l.CertsInputsDir())
	assert.Equal(t, "/opt/redelk/elkserver/mounts/redelk-config/etc/redelk/config.json", l.RedelkConfigFile())
	assert.Equal(t, "/opt/redelk/elkserver/redelk-full.yml", l.ComposeFile("redelk-full.yml"))
	assert.Equal(t, "/opt/redelk/c2servers/filebeat", l.C2FilebeatDir())
}

func TestScaffold(t *testing.T) {
	l := New(t.TempDir())
	require.NoError(t, l.Scaffold())
	for _, dir := range l.Dirs() {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}
	// Idempotent.
	require.NoError(t, l.Scaffold())
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "secret.cfg")
	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0600))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "ca.crt")
	require.NoError(t, os.WriteFile(src, []byte("PEM"), 0644))

	dst := filepath.Join(dir, "out", "ca.crt")
	require.NoError(t, CopyFile(src, dst, 0644))
	assert.True(t, Exists(dst))

	require.Error(t, CopyFile(filepath.Join(dir, "missing"), dst, 0644))
}
