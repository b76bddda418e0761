package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "elkserver", ".redelk-state.json")
	s, err := Open(path)
	require.NoError(t, err)

	_, err = uuid.Parse(s.RunID())
	assert.NoError(t, err)
	assert.NoFileExists(t, path)
	assert.False(t, s.Done("certificates"))
}

func TestCompleteAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path)
	require.NoError(t, err)
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	require.NoError(t, s.SetInstall("limited", "10.0.0.5"))
	require.NoError(t, s.Complete("scaffold"))
	clock = clock.Add(time.Minute)
	require.NoError(t, s.Complete("certificates"))
	require.NoError(t, s.Complete("scaffold"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	st, err := Read(path)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, s.RunID(), st.RunID)
	assert.Equal(t, "limited", st.InstallType)
	assert.Equal(t, "10.0.0.5", st.ServerAddress)
	require.Len(t, st.Steps, 2)
	assert.Equal(t, "scaffold", st.Steps[0].Name)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), st.Steps[0].Completed)
	assert.True(t, st.Done("certificates"))

	again, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, s.RunID(), again.RunID())
	assert.True(t, again.Done("scaffold"))
}

func TestReadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
	_, err := Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal state")
}

func TestSnapshotIsCopy(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	require.NoError(t, s.Complete("a"))
	snap := s.Snapshot()
	snap.Steps[0].Name = "changed"
	assert.True(t, s.Done("a"))
}
