package supervisor

import (
	"os"
	"path/filepath"
	"runtime"
)

// Config is the resolved runtime configuration for one engine child
// process, analogous to the manager's "with defaults" constructor.
type Config struct {
	BinPath                string
	WorkDir                string
	DefaultDownloadDir     string
	SessionFile            string
	MaxConcurrentDownloads int
	Split                  int
	MaxConnectionPerServer int
	BtTracker              string
	EnableUPnP             bool
}

// ConfigWithDefaults resolves the engine binary path and working
// directories relative to baseDir, honoring FLAMINGO_RESOURCE_DIR.
func ConfigWithDefaults(baseDir, downloadDir string) Config {
	workDir := filepath.Join(baseDir, "runtime")
	if downloadDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			downloadDir = filepath.Join(home, "Downloads")
		} else {
			downloadDir = filepath.Join(baseDir, "downloads")
		}
	}
	return Config{
		BinPath:                resolveBinPath(baseDir),
		WorkDir:                workDir,
		DefaultDownloadDir:     downloadDir,
		SessionFile:            filepath.Join(workDir, "aria2.session"),
		MaxConcurrentDownloads: 5,
		Split:                  16,
		MaxConnectionPerServer: 8,
		EnableUPnP:             true,
	}
}

func binName() string {
	if runtime.GOOS == "windows" {
		return "aria2c.exe"
	}
	return "aria2c"
}

func osBinDir() string {
	switch runtime.GOOS {
	case "windows":
		return "windows"
	case "darwin":
		return "macos"
	default:
		return "linux"
	}
}

// resolveBinPath searches, in order: FLAMINGO_RESOURCE_DIR's bundled
// layout, the app's own bundled aria2/bin/<os> layout, well-known
// system install locations, then every directory on PATH. The first
// candidate that exists on disk wins; if none exist, the app's own
// bundled path is returned anyway (the supervisor will fail loudly
// when it tries to spawn a binary that isn't there).
func resolveBinPath(baseDir string) string {
	var candidates []string

	if resourceDir := os.Getenv("FLAMINGO_RESOURCE_DIR"); resourceDir != "" {
		binDir := filepath.Join(resourceDir, "aria2", "bin")
		candidates = append(candidates,
			filepath.Join(binDir, osBinDir(), binName()),
			filepath.Join(binDir, binName()),
		)
	}

	bundledBinDir := filepath.Join(baseDir, "aria2", "bin")
	candidates = append(candidates,
		filepath.Join(bundledBinDir, osBinDir(), binName()),
		filepath.Join(bundledBinDir, binName()),
	)

	switch runtime.GOOS {
	case "darwin":
		candidates = append(candidates, "/opt/homebrew/bin/aria2c", "/usr/local/bin/aria2c")
	case "linux":
		candidates = append(candidates, "/usr/bin/aria2c", "/usr/local/bin/aria2c")
	}

	if pathVar := os.Getenv("PATH"); pathVar != "" {
		for _, dir := range filepath.SplitList(pathVar) {
			candidates = append(candidates, filepath.Join(dir, binName()))
		}
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return filepath.Join(bundledBinDir, binName())
}
