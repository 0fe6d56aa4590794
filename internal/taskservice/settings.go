package taskservice

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/lc5900/flamingo-downloader/internal/apperr"
	"github.com/lc5900/flamingo-downloader/internal/store"
)

func generateSecureToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// SetGlobalSettings validates the incoming settings, persists them,
// and — when the managed binary path changed — swaps it in under the
// engine's lifecycle lock and restarts.
func (s *Service) SetGlobalSettings(ctx context.Context, cfg store.GlobalSettings) error {
	if err := store.ValidateRuntimeSettings(cfg); err != nil {
		return err
	}
	if cfg.EngineBinPath != "" {
		if err := validateExecutablePath(cfg.EngineBinPath); err != nil {
			return err
		}
	}

	previous, err := s.currentSettings()
	if err != nil {
		return err
	}

	if err := s.store.SaveGlobalSettings(cfg); err != nil {
		return err
	}

	if cfg.EngineBinPath != "" && cfg.EngineBinPath != previous.EngineBinPath {
		s.engine.UpdateBinPath(cfg.EngineBinPath)
		if _, err := s.engine.Restart(ctx); err != nil {
			s.logOp("set_global_settings", "engine restart after binary swap failed: "+err.Error())
			return apperr.EngineUnavailablef("restart after binary swap: %v", err)
		}
	}
	return nil
}

func validateExecutablePath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return apperr.InvalidInputf("engine_bin_path %q: %v", path, err)
	}
	if info.IsDir() {
		return apperr.InvalidInputf("engine_bin_path %q is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0111 == 0 {
		return apperr.InvalidInputf("engine_bin_path %q is not executable", path)
	}
	return nil
}

// StorageSummary is the disk usage view of a single download root.
type StorageSummary struct {
	Path      string `json:"path"`
	TotalBytes uint64 `json:"total_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
	UsedBytes  uint64 `json:"used_bytes"`
}

func (s *Service) GetStorageSummary() (*StorageSummary, error) {
	cfg, err := s.currentSettings()
	if err != nil {
		return nil, err
	}
	if cfg.DownloadDir == "" {
		return nil, apperr.InvalidInputf("download_dir is not configured")
	}
	usage, err := disk.Usage(cfg.DownloadDir)
	if err != nil {
		return nil, apperr.StorageErrorf(err, "read disk usage for %s", cfg.DownloadDir)
	}
	return &StorageSummary{
		Path:       cfg.DownloadDir,
		TotalBytes: usage.Total,
		FreeBytes:  usage.Free,
		UsedBytes:  usage.Used,
	}, nil
}

// Diagnostics is the snapshot returned by get_diagnostics.
type Diagnostics struct {
	EngineEndpoint string   `json:"engine_endpoint"`
	StderrTail     string   `json:"engine_stderr_tail"`
	RecentOps      []string `json:"recent_operations"`
	TaskCount      int      `json:"task_count"`
	GeneratedAt    int64    `json:"generated_at"`
}

func (s *Service) GetDiagnostics() (*Diagnostics, error) {
	tasks, err := s.store.ListTasks(store.ListTasksFilter{})
	if err != nil {
		return nil, err
	}
	logs, err := s.store.ListOperationLogs(50)
	if err != nil {
		return nil, err
	}
	messages := make([]string, 0, len(logs))
	for _, l := range logs {
		messages = append(messages, l.Action+": "+l.Message)
	}
	return &Diagnostics{
		EngineEndpoint: s.engine.Endpoint(),
		StderrTail:     s.engine.StderrTail(),
		RecentOps:      messages,
		TaskCount:      len(tasks),
		GeneratedAt:    time.Now().Unix(),
	}, nil
}

// ExportDebugBundle serializes diagnostics and the current task list
// into one JSON document suitable for attaching to a bug report.
func (s *Service) ExportDebugBundle() ([]byte, error) {
	diag, err := s.GetDiagnostics()
	if err != nil {
		return nil, err
	}
	state, err := s.store.ExportTaskList()
	if err != nil {
		return nil, err
	}
	bundle := struct {
		Diagnostics *Diagnostics       `json:"diagnostics"`
		Tasks       *store.ExportedState `json:"tasks"`
	}{diag, state}
	return json.MarshalIndent(bundle, "", "  ")
}

func (s *Service) ExportTaskListJSON() ([]byte, error) {
	state, err := s.store.ExportTaskList()
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(state, "", "  ")
}

func (s *Service) ImportTaskListJSON(raw []byte) error {
	var state store.ExportedState
	if err := json.Unmarshal(raw, &state); err != nil {
		return apperr.InvalidInputf("malformed task list export: %v", err)
	}
	return s.store.ImportTaskList(&state)
}
