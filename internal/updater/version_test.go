package updater

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompareVersionsPadsShorterSide(t *testing.T) {
	require.Equal(t, 0, CompareVersions("1.36", "1.36.0"))
}

func TestCompareVersionsOrdersNumerically(t *testing.T) {
	require.Equal(t, -1, CompareVersions("1.9.0", "1.10.0"))
	require.Equal(t, 1, CompareVersions("1.10.0", "1.9.0"))
}

func TestCompareVersionsStripsVPrefixAndSuffix(t *testing.T) {
	require.Equal(t, 0, CompareVersions("v1.36.0", "1.36.0-release"))
}

func TestIsNewer(t *testing.T) {
	require.True(t, IsNewer("1.37.0", "1.36.0"))
	require.False(t, IsNewer("1.36.0", "1.36.0"))
	require.False(t, IsNewer("1.35.0", "1.36.0"))
}
