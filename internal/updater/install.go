package updater

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"

	"github.com/lc5900/flamingo-downloader/internal/apperr"
)

// EngineRestarter is the narrow slice of the engine lifecycle the
// installer needs: it never talks to Engine directly, only through
// this seam, so it can be tested without a real supervisor.
type EngineRestarter interface {
	Restart(ctx context.Context) (endpoint string, err error)
}

type Installer struct {
	client      *Client
	log         *slog.Logger
	binName     string // "aria2c" or "aria2c.exe"
	progressOut io.Writer
}

func NewInstaller(client *Client, log *slog.Logger) *Installer {
	binName := "aria2c"
	if runtime.GOOS == "windows" {
		binName = "aria2c.exe"
	}
	return &Installer{client: client, log: log, binName: binName, progressOut: os.Stderr}
}

// Install downloads the given asset, extracts the engine binary from
// it, and performs the swap-check-rollback sequence against target.
// engine is used both to restart after a successful swap and to roll
// back to the previous binary if that restart fails.
func (i *Installer) Install(ctx context.Context, asset Asset, target string, engine EngineRestarter) error {
	data, err := i.download(ctx, asset)
	if err != nil {
		return apperr.EngineUnavailablef("download update asset: %v", err)
	}

	binary, err := extractBinary(asset.Name, data, i.binName)
	if err != nil {
		return apperr.EngineUnavailablef("extract engine binary: %v", err)
	}

	newPath := target + ".new"
	if err := os.WriteFile(newPath, binary, 0644); err != nil {
		return apperr.StorageErrorf(err, "write %s", newPath)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(newPath, 0755); err != nil {
			return apperr.StorageErrorf(err, "chmod %s", newPath)
		}
	}

	if err := selfCheck(ctx, newPath); err != nil {
		os.Remove(newPath)
		return apperr.New(apperr.UpdateRollback, "downloaded binary failed self-check: "+err.Error())
	}

	bakPath := target + ".bak"
	hadPrevious := false
	if _, err := os.Stat(target); err == nil {
		hadPrevious = true
		os.Remove(bakPath)
		if err := os.Rename(target, bakPath); err != nil {
			os.Remove(newPath)
			return apperr.StorageErrorf(err, "back up existing binary")
		}
	}

	if err := os.Rename(newPath, target); err != nil {
		os.Remove(newPath)
		if hadPrevious {
			os.Rename(bakPath, target)
		}
		return apperr.StorageErrorf(err, "install new binary")
	}

	if _, err := engine.Restart(ctx); err != nil {
		i.log.Warn("engine restart after update failed, rolling back", "error", err)
		if hadPrevious {
			os.Remove(target)
			os.Rename(bakPath, target)
			if _, rerr := engine.Restart(ctx); rerr != nil {
				i.log.Error("rollback restart also failed", "error", rerr)
			}
		}
		return apperr.New(apperr.UpdateRollback, "engine failed to start on new binary, rolled back")
	}

	if hadPrevious {
		os.Remove(bakPath)
	}
	return nil
}

func (i *Installer) download(ctx context.Context, asset Asset) ([]byte, error) {
	urls := []string{asset.BrowserDownloadURL}
	if wrapped := i.client.downloadURL(asset.BrowserDownloadURL); wrapped != asset.BrowserDownloadURL {
		urls = []string{wrapped, asset.BrowserDownloadURL}
	}

	var lastErr error
	for _, url := range urls {
		data, err := i.fetch(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (i *Installer) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := i.client.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.EngineUnavailablef("download %s: status %d", url, resp.StatusCode)
	}

	out := i.progressOut
	if out == nil {
		out = io.Discard
	}
	bar := progressbar.NewOptions64(resp.ContentLength,
		progressbar.OptionSetDescription("downloading engine update"),
		progressbar.OptionSetWriter(out),
		progressbar.OptionClearOnFinish(),
	)
	var buf bytes.Buffer
	if _, err := io.Copy(io.MultiWriter(&buf, bar), resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func selfCheck(ctx context.Context, path string) error {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(checkCtx, path, "--version")
	return cmd.Run()
}

// extractBinary locates and returns binName's bytes inside the
// archive, dispatching by file extension.
func extractBinary(archiveName string, data []byte, binName string) ([]byte, error) {
	lower := strings.ToLower(archiveName)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return extractFromZip(data, binName)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return extractFromTar(gz, binName)
	case strings.HasSuffix(lower, ".tar.xz"):
		xzr, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return extractFromTar(xzr, binName)
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"):
		return extractFromTar(bzip2.NewReader(bytes.NewReader(data)), binName)
	case strings.HasSuffix(lower, ".exe"), strings.HasSuffix(lower, "aria2c"):
		return data, nil
	default:
		return nil, apperr.InvalidInputf("unrecognized archive format: %s", archiveName)
	}
}

func extractFromZip(data []byte, binName string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	for _, f := range zr.File {
		if matchesBinName(f.Name, binName) {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, apperr.InvalidInputf("%s not found in archive", binName)
}

func extractFromTar(r io.Reader, binName string) ([]byte, error) {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if matchesBinName(hdr.Name, binName) {
			return io.ReadAll(tr)
		}
	}
	return nil, apperr.InvalidInputf("%s not found in archive", binName)
}

func matchesBinName(path, binName string) bool {
	return filepath.Base(path) == binName
}
