package updater

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsSourceArchiveExcluded(t *testing.T) {
	require.True(t, isSourceArchive("aria2-1.36.0.tar.gz"))
	require.False(t, isSourceArchive("aria2-1.36.0-win-64bit-build1.zip"))
}

func TestScoreAssetExcludesWrongExtension(t *testing.T) {
	require.Equal(t, -1, scoreAsset("readme.md"))
}

func TestSelectBestAssetReturnsNilWhenNoneCompatible(t *testing.T) {
	assets := []Asset{{Name: "aria2-1.36.0.tar.gz"}, {Name: "checksums.txt"}}
	require.Nil(t, SelectBestAsset(assets))
}
