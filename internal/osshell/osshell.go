// Package osshell delegates "open file" / "open containing folder"
// requests to the host OS's default file association.
package osshell

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
)

// OpenFile opens path with the OS-default associated application.
func OpenFile(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", path)
	case "darwin":
		cmd = exec.Command("open", path)
	case "linux":
		cmd = exec.Command("xdg-open", path)
	default:
		return fmt.Errorf("unsupported platform %q", runtime.GOOS)
	}
	return cmd.Start()
}

// OpenFolder opens a file manager, selecting path where the platform
// supports it (Windows, macOS); Linux opens the containing directory.
func OpenFolder(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("explorer", "/select,", absPath)
	case "darwin":
		cmd = exec.Command("open", "-R", absPath)
	case "linux":
		cmd = exec.Command("xdg-open", filepath.Dir(absPath))
	default:
		return fmt.Errorf("unsupported platform %q", runtime.GOOS)
	}
	return cmd.Start()
}
