// Package engine defines the capability set that every engine-facing
// component (supervisor, reconciler, sync loop, task service) programs
// against, so that a test double can stand in for the real child
// process supervisor in every service-level test.
package engine

import (
	"context"

	"github.com/lc5900/flamingo-downloader/internal/engineclient"
	"github.com/lc5900/flamingo-downloader/internal/store"
)

// Snapshot is a normalized, transient view of one engine task row. It
// is never persisted; it is produced fresh on every poll.
type Snapshot struct {
	Gid           string
	Status        string // store.Status* value, already mapped
	Total         int64
	Completed     int64
	DownloadSpeed int64
	UploadSpeed   int64
	Connections   int64
	ErrorCode     string
	ErrorMessage  string
	Name          string
	HasMetadata   bool
	Files         []FileSnapshot
}

type FileSnapshot struct {
	Path            string
	Length          int64
	CompletedLength int64
	Selected        bool
}

// MapStatus implements spec 4.6's status mapping: a torrent/magnet with
// no metadata yet and no known length is always "Metadata" regardless
// of the engine's own status word.
func MapStatus(ariaStatus string, hasMetadata bool, total int64) string {
	if !hasMetadata && total == 0 {
		return store.StatusMetadata
	}
	switch ariaStatus {
	case "active":
		return store.StatusActive
	case "waiting":
		return store.StatusQueued
	case "paused":
		return store.StatusPaused
	case "complete":
		return store.StatusCompleted
	case "removed":
		return store.StatusRemoved
	case "error":
		return store.StatusError
	default:
		return store.StatusQueued
	}
}

// IsTerminal reports whether a mapped snapshot status (Snapshot.Status)
// is terminal: Completed, Error or Removed.
func IsTerminal(status string) bool {
	switch status {
	case store.StatusCompleted, store.StatusError, store.StatusRemoved:
		return true
	default:
		return false
	}
}

// FromAriaStatus converts the wire representation into a Snapshot.
func FromAriaStatus(s engineclient.AriaStatus) Snapshot {
	files := make([]FileSnapshot, 0, len(s.Files))
	for _, f := range s.Files {
		files = append(files, FileSnapshot{
			Path:            f.Path,
			Length:          f.LengthInt(),
			CompletedLength: f.CompletedLengthInt(),
			Selected:        f.SelectedBool(),
		})
	}
	hasMetadata := s.HasMetadata()
	total := s.TotalLengthInt()
	return Snapshot{
		Gid:           s.Gid,
		Status:        MapStatus(s.Status, hasMetadata, total),
		Total:         total,
		Completed:     s.CompletedLengthInt(),
		DownloadSpeed: s.DownloadSpeedInt(),
		UploadSpeed:   s.UploadSpeedInt(),
		Connections:   s.ConnectionsInt(),
		ErrorCode:     s.ErrorCode,
		ErrorMessage:  s.ErrorMessage,
		Name:          s.Name(),
		HasMetadata:   hasMetadata,
		Files:         files,
	}
}

// Engine is the single capability-set abstraction boundary named by
// the design notes: everything downstream (reconciler, sync loop,
// task service) depends on this interface, never on the concrete
// supervisor, so a fake implementing it is sufficient to drive every
// service-level test.
type Engine interface {
	Start(ctx context.Context) (endpoint string, err error)
	Stop(ctx context.Context) error
	EnsureStarted(ctx context.Context) (endpoint string, err error)
	Endpoint() string
	StderrTail() string

	AddURI(ctx context.Context, uris []string, options map[string]string) (gid string, err error)
	AddTorrent(ctx context.Context, torrentBase64 string, uris []string, options map[string]string) (gid string, err error)
	Pause(ctx context.Context, gid string) error
	Unpause(ctx context.Context, gid string) error
	PauseAll(ctx context.Context) error
	UnpauseAll(ctx context.Context) error
	Remove(ctx context.Context, gid string, force bool) error
	RemoveDownloadResult(ctx context.Context, gid string) error
	SaveSession(ctx context.Context) error

	TellStatus(ctx context.Context, gid string) (Snapshot, error)
	TellAll(ctx context.Context) ([]Snapshot, error)
	GetPeers(ctx context.Context, gid string) ([]map[string]interface{}, error)
	ChangePosition(ctx context.Context, gid string, pos int, how string) (int, error)
	ChangeOption(ctx context.Context, gid string, opts map[string]string) error
	ChangeGlobalOption(ctx context.Context, opts map[string]string) error
	GetGlobalStat(ctx context.Context) (map[string]interface{}, error)
	GetGlobalOption(ctx context.Context) (map[string]string, error)
	GetVersion(ctx context.Context) (string, error)
}
