package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirCreatesAndReusesTheSameDirectory(t *testing.T) {
	m, err := New(t.TempDir())
	require.NoError(t, err)

	dir1, err := m.Dir("issue-42")
	require.NoError(t, err)
	assert.DirExists(t, dir1)

	dir2, err := m.Dir("issue-42")
	require.NoError(t, err)
	assert.Equal(t, dir1, dir2, "repeated calls for the same issue must return the same path")
}

func TestDirNamespacesHostileIssueIDs(t *testing.T) {
	m, err := New(t.TempDir())
	require.NoError(t, err)

	dir, err := m.Dir("org/repo#42")
	require.NoError(t, err)
	assert.NotContains(t, filepath.Base(dir), "/")
	assert.DirExists(t, dir)
}

func TestRemoveDeletesTheWorkdir(t *testing.T) {
	m, err := New(t.TempDir())
	require.NoError(t, err)

	dir, err := m.Dir("issue-7")
	require.NoError(t, err)
	require.NoError(t, m.Remove("issue-7"))

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestNewDefaultsRootUnderTempDir(t *testing.T) {
	m, err := New("")
	require.NoError(t, err)
	assert.Contains(t, m.root, "warpcoder")
}
