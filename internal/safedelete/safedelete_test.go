package safedelete

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lc5900/flamingo-downloader/internal/apperr"
)

func TestCheckContainmentAcceptsDescendant(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "sub", "a.bin")
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0755))
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	err := CheckContainment(root, []string{file})
	require.NoError(t, err)
}

func TestCheckContainmentRefusesEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	outsideFile := filepath.Join(outside, "x.bin")
	require.NoError(t, os.WriteFile(outsideFile, []byte("x"), 0644))

	err := CheckContainment(root, []string{outsideFile})
	require.Error(t, err)
	require.Equal(t, apperr.PathEscape, apperr.Of(err))
}

func TestResolveCandidatesJoinsRelativePaths(t *testing.T) {
	got := ResolveCandidates("/downloads", []string{"a.bin", "/abs/b.bin"})
	require.Equal(t, []string{filepath.Clean("/downloads/a.bin"), filepath.Clean("/abs/b.bin")}, got)
}

func TestDeleteAllRemovesFilesAndCleansEmptyDirs(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	file := filepath.Join(nested, "x.bin")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	err := DeleteAll(root, []string{file})
	require.NoError(t, err)

	_, statErr := os.Stat(file)
	require.True(t, os.IsNotExist(statErr))
	_, dirErr := os.Stat(filepath.Join(root, "a"))
	require.True(t, os.IsNotExist(dirErr))
	_, rootErr := os.Stat(root)
	require.NoError(t, rootErr) // root itself survives
}

func TestDeleteAllMissingFileIsNotAnError(t *testing.T) {
	root := t.TempDir()
	missing := filepath.Join(root, "gone.bin")
	require.NoError(t, DeleteAll(root, []string{missing}))
}
