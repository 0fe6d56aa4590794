package updater

import (
	"regexp"
	"runtime"
	"strings"
)

var installableExt = []string{".tar.gz", ".tgz", ".tar.xz", ".tar.bz2", ".tbz2", ".zip", ".exe"}

// preferredExtOrder ranks extensions when two assets otherwise score
// equally; earlier entries are smaller bonuses than later ones: the
// loop below adds the entry's index to the score.
var preferredExtOrder = []string{".exe", ".zip", ".tbz2", ".tar.bz2", ".tgz", ".tar.gz", ".tar.xz"}

var sourceArchivePattern = regexp.MustCompile(`^aria2-[0-9][0-9.]*\.(tar\.(gz|xz|bz2)|zip)$`)

var osAliases = map[string][]string{
	"windows": {"win", "windows"},
	"darwin":  {"mac", "macos", "osx", "darwin"},
	"linux":   {"linux"},
}

var archAliases = map[string][]string{
	"amd64": {"x86_64", "amd64", "x64"},
	"arm64": {"aarch64", "arm64"},
	"386":   {"i686", "x86", "386"},
}

func hasInstallableExt(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, ext := range installableExt {
		if strings.HasSuffix(lower, ext) {
			return ext, true
		}
	}
	if strings.HasSuffix(lower, "aria2c") {
		return "", true
	}
	return "", false
}

func isSourceArchive(name string) bool {
	return sourceArchivePattern.MatchString(name)
}

func matchesCurrentOS(name string) bool {
	aliases := osAliases[runtime.GOOS]
	lower := strings.ToLower(name)
	for _, alias := range aliases {
		if strings.Contains(lower, alias) {
			return true
		}
	}
	return false
}

func matchesCurrentArch(name string) bool {
	aliases := archAliases[runtime.GOARCH]
	lower := strings.ToLower(name)
	for _, alias := range aliases {
		if strings.Contains(lower, alias) {
			return true
		}
	}
	return false
}

// scoreAsset returns a relative rank, or -1 if the asset must be
// excluded outright (wrong OS, source archive, unsupported extension).
func scoreAsset(name string) int {
	if isSourceArchive(name) {
		return -1
	}
	ext, ok := hasInstallableExt(name)
	if !ok {
		return -1
	}
	if !matchesCurrentOS(name) {
		return -1
	}

	score := 0
	if matchesCurrentArch(name) {
		score += 100
	} else if strings.Contains(strings.ToLower(name), "universal") {
		score += 50
	} else {
		return -1 // known OS, wrong arch, not universal: not installable here
	}

	if strings.Contains(strings.ToLower(name), "static") {
		score += 20
	}
	for i, pref := range preferredExtOrder {
		if ext == pref {
			score += i
			break
		}
	}
	return score
}

// SelectBestAsset returns the highest-scoring installable asset, or
// nil if none of the assets are compatible with this platform.
func SelectBestAsset(assets []Asset) *Asset {
	var best *Asset
	bestScore := -1
	for i := range assets {
		s := scoreAsset(assets[i].Name)
		if s > bestScore {
			bestScore = s
			best = &assets[i]
		}
	}
	if bestScore < 0 {
		return nil
	}
	return best
}
