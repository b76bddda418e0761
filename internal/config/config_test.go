package config

import (
	"os"
	"path/filepath"
	"testing"

	"redelk/internal/version"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvFile(t *testing.T, base, content string) {
	t.Helper()
	dir := filepath.Join(base, "elkserver")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0600))
}

func TestEnvLoaderPrecedence(t *testing.T) {
	base := t.TempDir()
	writeEnvFile(t, base, "ELASTIC_PASSWORD=fromfile\nKIBANA_PORT=5601\n")

	t.Setenv("ELASTIC_PASSWORD", "fromenv")
	l := NewEnvLoader(base)

	assert.Equal(t, "fromenv", l.Value("ELASTIC_PASSWORD", "default"))
	assert.Equal(t, "5601", l.Value("KIBANA_PORT", "default"))
	assert.Equal(t, "default", l.Value("MISSING_KEY", "default"))
}

func TestEnvLoaderWithoutFile(t *testing.T) {
	l := NewEnvLoader(t.TempDir())
	assert.Equal(t, "fallback", l.Value("REDELK_TEST_UNSET_KEY", "fallback"))
}

func TestEnvLoaderBase(t *testing.T) {
	assert.Equal(t, "/opt/redelk", NewEnvLoader("/opt/redelk").Base())
}

func TestBasePathFromEnv(t *testing.T) {
	t.Setenv(PathEnv, "/srv/redelk")
	assert.Equal(t, "/srv/redelk", BasePath())
	assert.Equal(t, "/srv/redelk", NewEnvLoader("").Base())
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(PathEnv, "/srv/redelk")
	t.Chdir(t.TempDir())

	s, err := Load(nil, "")
	require.NoError(t, err)
	assert.Equal(t, "/srv/redelk", s.BaseDir)
	assert.Equal(t, version.ElkVersion, s.ElkVersion)
	assert.False(t, s.Verbose)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	cfgPath := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("base_dir: /from/file\nelk_version: 8.0.0\n"), 0644))

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("base-dir", "", "")
	cmd.Flags().BoolP("verbose", "v", false, "")
	require.NoError(t, cmd.Flags().Set("verbose", "true"))

	t.Setenv("REDELK_ELK_VERSION", "8.11.1")

	s, err := Load(cmd, cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "/from/file", s.BaseDir)
	assert.Equal(t, "8.11.1", s.ElkVersion)
	assert.True(t, s.Verbose)

	require.NoError(t, cmd.Flags().Set("base-dir", "/from/flag"))
	s, err = Load(cmd, cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", s.BaseDir)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(nil, filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
