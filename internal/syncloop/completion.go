package syncloop

import (
	"os"
	"path/filepath"
)

// removeControlFileIfPresent deletes the sibling .aria2 control file of
// the primary task path, ignoring a missing file.
func removeControlFileIfPresent(primaryPath string) {
	if primaryPath == "" {
		return
	}
	controlPath := primaryPath + ".aria2"
	if _, err := os.Stat(controlPath); err == nil {
		_ = os.Remove(controlPath)
	}
}

func primaryFilePath(saveDir, name string, firstFilePath string) string {
	if firstFilePath != "" {
		return firstFilePath
	}
	if saveDir == "" || name == "" {
		return ""
	}
	return filepath.Join(saveDir, name)
}
