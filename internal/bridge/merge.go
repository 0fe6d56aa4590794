package bridge

import (
	"bufio"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// MediaMerger spawns ffmpeg to remux an HLS (.m3u8) or DASH (.mpd)
// manifest into a single file, tracked as its own lifecycle rather
// than through the engine's RPC surface.
type MediaMerger struct {
	log *slog.Logger
}

func NewMediaMerger(log *slog.Logger) *MediaMerger {
	return &MediaMerger{log: log}
}

// Start launches ffmpeg in the background and returns immediately with
// a synthetic task id; progress is only logged, not persisted as a
// store.Task, since the merge has no engine gid to reconcile against.
func (m *MediaMerger) Start(sourceURL, saveDir string, headers map[string]string) (string, error) {
	taskID := uuid.NewString()
	outputName := taskID + ".mp4"
	outputPath := outputName
	if saveDir != "" {
		outputPath = filepath.Join(saveDir, outputName)
	}

	args := []string{"-y"}
	if ua, ok := headers["user-agent"]; ok {
		args = append(args, "-user_agent", ua)
	}
	if ref, ok := headers["referer"]; ok {
		args = append(args, "-headers", "Referer: "+ref+"\r\n")
	}
	args = append(args, "-i", sourceURL, "-c", "copy", "-progress", "pipe:2", outputPath)

	cmd := exec.Command("ffmpeg", args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", err
	}
	if err := cmd.Start(); err != nil {
		return "", err
	}

	go m.watch(taskID, stderr, cmd)
	return taskID, nil
}

func (m *MediaMerger) watch(taskID string, stderr io.ReadCloser, cmd *exec.Cmd) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		if scanner.Text() == "progress=end" {
			m.log.Info("ffmpeg merge completed", "task_id", taskID)
		}
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			m.log.Warn("ffmpeg merge failed", "task_id", taskID, "error", err)
		}
	case <-time.After(2 * time.Hour):
		m.log.Warn("ffmpeg merge timed out", "task_id", taskID)
		_ = cmd.Process.Kill()
	}
}
