// Package safedelete implements strict path-containment checking
// before deleting task files, refusing the whole operation if any
// candidate path would escape the configured download root.
package safedelete

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lc5900/flamingo-downloader/internal/apperr"
)

// ResolveCandidates joins each relative path against saveDir (absolute
// paths pass through), then lexically normalizes it. It does not touch
// the filesystem.
func ResolveCandidates(saveDir string, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(saveDir, p)
		}
		out = append(out, filepath.Clean(p))
	}
	return out
}

// CheckContainment canonicalizes root and every candidate and returns
// apperr.PathEscape naming the first offender if any candidate is not
// a descendant of root.
func CheckContainment(root string, candidates []string) error {
	canonicalRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		canonicalRoot = filepath.Clean(root)
	}

	for _, c := range candidates {
		canonical := c
		if resolved, err := filepath.EvalSymlinks(c); err == nil {
			canonical = resolved
		}
		if !isDescendant(canonicalRoot, canonical) {
			return apperr.New(apperr.PathEscape, "path escapes download root: "+c)
		}
	}
	return nil
}

func isDescendant(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// DeleteAll removes every candidate deepest-first, then walks parent
// directories upward removing empties, never above root. Containment
// MUST already have been checked by the caller: this function deletes
// unconditionally.
func DeleteAll(root string, candidates []string) error {
	sorted := append([]string{}, candidates...)
	sort.Slice(sorted, func(i, j int) bool {
		return len(sorted[i]) > len(sorted[j])
	})

	var failed []string
	for _, c := range sorted {
		if err := os.Remove(c); err != nil && !os.IsNotExist(err) {
			failed = append(failed, c)
		}
	}
	if len(failed) > 0 {
		return apperr.New(apperr.StorageError, "failed to delete: "+joinPaths(failed))
	}

	for _, c := range sorted {
		cleanupEmptyDirsUpward(root, filepath.Dir(c))
	}
	return nil
}

// cleanupEmptyDirsUpward removes dir and then its ancestors, stopping
// as soon as a directory is non-empty or root is reached.
func cleanupEmptyDirsUpward(root, dir string) {
	canonicalRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		canonicalRoot = filepath.Clean(root)
	}
	for {
		if dir == canonicalRoot || dir == "." || dir == string(filepath.Separator) {
			return
		}
		if !isDescendant(canonicalRoot, dir) {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func joinPaths(paths []string) string {
	out := ""
	for i, p := range paths {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
