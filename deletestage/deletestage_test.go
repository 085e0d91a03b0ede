package deletestage_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"blockfile/deletestage"
)

func TestRecoveryPreservingRename(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := "/data"
	path := filepath.Join(root, "shard.db")
	require.NoError(t, afero.WriteFile(fs, path, []byte("payload"), 0o644))

	s := deletestage.New(fs, root)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	dest, err := s.RecoveryPreservingRename(path, now)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "shard.20260102.030405.deleted.db"), dest)

	exists, err := afero.Exists(fs, path)
	require.NoError(t, err)
	require.False(t, exists)

	exists, err = afero.Exists(fs, dest)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestStagedDeleteSync(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := "/data"
	path := filepath.Join(root, "shard.db")
	require.NoError(t, afero.WriteFile(fs, path, []byte("payload"), 0o644))

	s := deletestage.New(fs, root)
	require.NoError(t, s.Init())
	require.NoError(t, s.StagedDelete(path, deletestage.Sync))

	exists, err := afero.Exists(fs, path)
	require.NoError(t, err)
	require.False(t, exists)

	entries, err := afero.ReadDir(fs, filepath.Join(root, ".delete"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestInitSweepsStaleEntries(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := "/data"
	stale := filepath.Join(root, ".delete", "leftover-uuid")
	require.NoError(t, afero.WriteFile(fs, stale, []byte("x"), 0o644))

	s := deletestage.New(fs, root)
	require.NoError(t, s.Init())

	require.Eventually(t, func() bool {
		exists, _ := afero.Exists(fs, stale)
		return !exists
	}, time.Second, time.Millisecond)
}
