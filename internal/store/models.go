// Package store is the durable task/file/setting/operation-log/tombstone
// persistence layer: a process-wide, thread-safe store backed by an
// embedded SQLite database.
package store

// Task is the primary aggregate. Completed <= Total whenever Total > 0;
// a task in StatusCompleted has Completed == Total (or >= 1 when Total
// is unknown, i.e. merged streams with no declared length). At most one
// task may hold a given non-empty Gid at a time.
type Task struct {
	ID            string `gorm:"column:id;primaryKey"`
	Gid           string `gorm:"column:gid"`
	Kind          string `gorm:"column:kind"`
	Source        string `gorm:"column:source"`
	Status        string `gorm:"column:status"`
	Name          string `gorm:"column:name"`
	Category      string `gorm:"column:category"`
	SaveDir       string `gorm:"column:save_dir"`
	Total         int64  `gorm:"column:total"`
	Completed     int64  `gorm:"column:completed"`
	DownloadSpeed int64  `gorm:"column:download_speed"`
	UploadSpeed   int64  `gorm:"column:upload_speed"`
	Connections   int    `gorm:"column:connections"`
	ErrorCode     string `gorm:"column:error_code"`
	ErrorMessage  string `gorm:"column:error_message"`
	RetryAttempts int    `gorm:"column:retry_attempts"`
	NextRetryAt   int64  `gorm:"column:next_retry_at"`
	CreatedAt     int64  `gorm:"column:created_at"`
	UpdatedAt     int64  `gorm:"column:updated_at"`
}

func (Task) TableName() string { return "tasks" }

// Status values for Task.Status, mirroring the engine status mapping.
const (
	StatusMetadata  = "Metadata"
	StatusActive    = "Active"
	StatusQueued    = "Queued"
	StatusPaused    = "Paused"
	StatusCompleted = "Completed"
	StatusRemoved   = "Removed"
	StatusError     = "Error"
)

// Kind values for Task.Kind.
const (
	KindHTTP     = "http"
	KindTorrent  = "torrent"
	KindMagnet   = "magnet"
	KindMetalink = "metalink"
)

// TaskFile is a child row of Task, one per file the task produces.
// Replaced atomically per task (delete-then-insert in one transaction).
type TaskFile struct {
	ID              uint   `gorm:"column:id;primaryKey;autoIncrement"`
	TaskID          string `gorm:"column:task_id"`
	Position        int    `gorm:"column:position"`
	Path            string `gorm:"column:path"`
	Length          int64  `gorm:"column:length"`
	CompletedLength int64  `gorm:"column:completed_length"`
	Selected        bool   `gorm:"column:selected"`
}

func (TaskFile) TableName() string { return "task_files" }

// Setting is a typed key/value row keyed by a well-known name.
type Setting struct {
	Key   string `gorm:"column:key;primaryKey"`
	Value string `gorm:"column:value"`
}

func (Setting) TableName() string { return "settings" }

// OperationLog is an append-only audit entry.
type OperationLog struct {
	ID      uint   `gorm:"column:id;primaryKey;autoIncrement"`
	Ts      int64  `gorm:"column:ts"`
	Action  string `gorm:"column:action"`
	Message string `gorm:"column:message"`
}

func (OperationLog) TableName() string { return "operation_logs" }

// OperationLogRetention is the maximum number of rows kept in the
// operation_logs table; rows beyond it are pruned in the same
// transaction as any append.
const OperationLogRetention = 5000

// DeletedGid is a tombstone for an engine handle the user removed.
// Prunable after DeletedGidTTLDays.
type DeletedGid struct {
	Gid       string `gorm:"column:gid;primaryKey"`
	DeletedAt int64  `gorm:"column:deleted_at"`
}

func (DeletedGid) TableName() string { return "deleted_gids" }

// DeletedGidTTLDays is the age after which a tombstone may be pruned.
const DeletedGidTTLDays = 30

// MediaMergeJob tracks a parallel ffmpeg merge task spawned by the
// browser bridge for .m3u8/.mpd captures (spec 4.8).
type MediaMergeJob struct {
	TaskID    string `gorm:"column:task_id;primaryKey"`
	Pid       int    `gorm:"column:pid"`
	Status    string `gorm:"column:status"`
	UpdatedAt int64  `gorm:"column:updated_at"`
}

func (MediaMergeJob) TableName() string { return "media_merge_jobs" }
