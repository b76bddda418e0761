package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestGenerate(t *testing.T) {
	a, err := Generate(32)
	require.NoError(t, err)
	b, err := Generate(32)
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
	for _, r := range a {
		assert.True(t, strings.ContainsRune(alphabet, r), "unexpected rune %q", r)
	}

	_, err = Generate(0)
	assert.Error(t, err)
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "redelk_passwords.cfg")

	first, created, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.True(t, created)
	for _, c := range Manifest {
		assert.Len(t, first.Get(c.Key), c.Length, c.Key)
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	second, created, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)
}

func TestLoadOrCreateFillsMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "redelk_passwords.cfg")
	require.NoError(t, os.WriteFile(path, []byte("# old\nELASTIC_PASSWORD=\"keepme\"\nCUSTOM=x\n"), 0600))

	p, created, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "keepme", p.Get(ElasticPassword))
	assert.NotEmpty(t, p.Get(Neo4jPassword))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `ELASTIC_PASSWORD="keepme"`)
	assert.Contains(t, string(data), `CUSTOM="x"`)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.cfg")
	require.NoError(t, os.WriteFile(path, []byte("no separator here\n"), 0600))
	_, _, err := LoadOrCreate(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ":1:")
}

func TestWriteHtpasswd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nginx", "htpasswd.users")
	require.NoError(t, WriteHtpasswd(path, "redelk", "s3cret"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	user, hash, ok := strings.Cut(strings.TrimSpace(string(data)), ":")
	require.True(t, ok)
	assert.Equal(t, "redelk", user)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))

	assert.Error(t, WriteHtpasswd(path, "bad:user", "x"))
}
