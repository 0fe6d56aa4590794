package rules

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveSaveDirByExtension(t *testing.T) {
	rulesList := []DownloadDirRule{
		{Enabled: true, Matcher: MatcherExt, Pattern: "mp4,mkv", SaveDir: "/videos"},
	}
	dir := ResolveSaveDir(rulesList, MatchInput{Source: "https://example.com/movie.mp4", Kind: "http"}, "/default")
	require.Equal(t, "/videos", dir)
}

func TestResolveSaveDirByDomainSuffix(t *testing.T) {
	rulesList := []DownloadDirRule{
		{Enabled: true, Matcher: MatcherDomain, Pattern: "example.com", SaveDir: "/from-example"},
	}
	dir := ResolveSaveDir(rulesList, MatchInput{Source: "https://cdn.example.com/a.zip", Kind: "http"}, "/default")
	require.Equal(t, "/from-example", dir)
}

func TestResolveSaveDirByType(t *testing.T) {
	rulesList := []DownloadDirRule{
		{Enabled: true, Matcher: MatcherType, Pattern: "torrent", SaveDir: "/torrents"},
	}
	dir := ResolveSaveDir(rulesList, MatchInput{Source: "magnet:?xt=urn:btih:abc", Kind: "torrent"}, "/default")
	require.Equal(t, "/torrents", dir)
}

func TestResolveSaveDirByMimeGroup(t *testing.T) {
	rulesList := []DownloadDirRule{
		{Enabled: true, Matcher: MatcherType, Pattern: "video", SaveDir: "/videos"},
	}
	dir := ResolveSaveDir(rulesList, MatchInput{Source: "https://example.com/x", Kind: "http", MimeType: "video/mp4"}, "/default")
	require.Equal(t, "/videos", dir)
}

func TestResolveSaveDirFallsBackToDefaultWhenNoMatch(t *testing.T) {
	dir := ResolveSaveDir(nil, MatchInput{Source: "https://example.com/a.bin", Kind: "http"}, "/default")
	require.Equal(t, "/default", dir)
}

func TestResolveSaveDirDisabledRuleSkipped(t *testing.T) {
	rulesList := []DownloadDirRule{
		{Enabled: false, Matcher: MatcherExt, Pattern: "bin", SaveDir: "/wrong"},
	}
	dir := ResolveSaveDir(rulesList, MatchInput{Source: "https://example.com/a.bin", Kind: "http"}, "/default")
	require.Equal(t, "/default", dir)
}

func TestResolveCategoryFirstMatchWins(t *testing.T) {
	rulesList := []CategoryRule{
		{Enabled: true, Matcher: MatcherExt, Pattern: "mp4", Category: "movies"},
		{Enabled: true, Matcher: MatcherExt, Pattern: "mp4", Category: "should-not-win"},
	}
	cat := ResolveCategory(rulesList, MatchInput{Source: "https://example.com/a.mp4", Kind: "http"})
	require.Equal(t, "movies", cat)
}

func TestResolveCategoryNoMatch(t *testing.T) {
	cat := ResolveCategory(nil, MatchInput{Source: "https://example.com/a.bin", Kind: "http"})
	require.Equal(t, "", cat)
}
