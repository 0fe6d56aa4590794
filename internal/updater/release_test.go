package updater

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func osToken() string {
	switch runtime.GOOS {
	case "windows":
		return "windows"
	case "darwin":
		return "macos"
	default:
		return "linux"
	}
}

func archToken() string {
	switch runtime.GOARCH {
	case "arm64":
		return "aarch64"
	default:
		return "x86_64"
	}
}

func TestResolveAssetPicksCompatibleAssetFromLatestRelease(t *testing.T) {
	assetName := "aria2-1.36.0-" + osToken() + "-" + archToken() + "-static.zip"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Release{
			TagName: "v1.36.0",
			Assets:  []Asset{{Name: "aria2-1.36.0.tar.gz"}, {Name: assetName, BrowserDownloadURL: "https://example.com/" + assetName}},
		})
	}))
	defer srv.Close()

	client := NewClient("", "")
	client.APIBase = srv.URL

	repo, rel, asset, err := client.ResolveAsset()
	require.NoError(t, err)
	require.NotEmpty(t, repo)
	require.Equal(t, "v1.36.0", rel.TagName)
	require.Equal(t, assetName, asset.Name)
}

func TestResolveAssetErrorsWhenNothingCompatible(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Release{TagName: "v1.36.0", Assets: []Asset{{Name: "aria2-1.36.0.tar.gz"}}})
	}))
	defer srv.Close()

	client := NewClient("", "")
	client.APIBase = srv.URL

	_, _, _, err := client.ResolveAsset()
	require.Error(t, err)
}

func TestDownloadURLWrapsWithCDNTemplate(t *testing.T) {
	client := NewClient("https://cdn.example.com/{url}", "")
	got := client.downloadURL("https://github.com/a/b/c.zip")
	require.Equal(t, "https://cdn.example.com/https://github.com/a/b/c.zip", got)
}

func TestDownloadURLUnchangedWithoutCDN(t *testing.T) {
	client := NewClient("", "")
	got := client.downloadURL("https://github.com/a/b/c.zip")
	require.Equal(t, "https://github.com/a/b/c.zip", got)
}
