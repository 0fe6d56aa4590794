package store

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/lc5900/flamingo-downloader/internal/apperr"
)

// Store is the process-wide, thread-safe persistence layer. Writes are
// serialized through writeMu so that the file-list-replace and
// log-flush transactions never interleave with a concurrent writer;
// SQLite itself only ever sees one writer at a time regardless, but
// the mutex keeps multi-statement operations atomic from Go's view.
type Store struct {
	db      *gorm.DB
	path    string
	writeMu sync.Mutex
}

// Open opens (creating if absent) the embedded SQL database at
// <dataDir>/runtime/app.db and applies any pending schema migrations.
func Open(dataDir string) (*Store, error) {
	runtimeDir := filepath.Join(dataDir, "runtime")
	if err := os.MkdirAll(runtimeDir, 0755); err != nil {
		return nil, apperr.StorageErrorf(err, "create runtime dir")
	}

	dbPath := filepath.Join(runtimeDir, "app.db")
	db, err := gorm.Open(sqlite.Open(dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, apperr.StorageErrorf(err, "open database")
	}

	if err := runMigrations(db); err != nil {
		return nil, apperr.StorageErrorf(err, "apply migrations")
	}

	return &Store{db: db, path: dbPath}, nil
}

// OpenInMemory opens a shared-cache in-memory database, for tests. Every
// connection in the process sees the same database while one stays open.
func OpenInMemory() (*Store, error) {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, apperr.StorageErrorf(err, "open in-memory database")
	}
	if err := runMigrations(db); err != nil {
		return nil, apperr.StorageErrorf(err, "apply migrations")
	}
	return &Store{db: db, path: ":memory:"}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// IntegrityCheck runs SQLite's built-in consistency check.
func (s *Store) IntegrityCheck() error {
	var result string
	if err := s.db.Raw("PRAGMA integrity_check").Scan(&result).Error; err != nil {
		return apperr.StorageErrorf(err, "integrity check")
	}
	if result != "ok" {
		return apperr.StorageErrorf(nil, "integrity check failed: %s", result)
	}
	return nil
}

// CopySnapshot checkpoints the WAL then copies the database file to dest.
func (s *Store) CopySnapshot(dest string) error {
	if err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)").Error; err != nil {
		return apperr.StorageErrorf(err, "wal checkpoint")
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return apperr.StorageErrorf(err, "read database file")
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return apperr.StorageErrorf(err, "write snapshot")
	}
	return nil
}

// ---- Tasks ----

// UpsertTask inserts or updates a task row by ID.
func (s *Store) UpsertTask(t *Task) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().Unix()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	err := s.db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).Create(t).Error
	if err != nil {
		return apperr.StorageErrorf(err, "upsert task %s", t.ID)
	}
	return nil
}

// ListTasksFilter restricts ListTasks.
type ListTasksFilter struct {
	Status string // empty = any
	Limit  int    // 0 = unbounded
	Offset int
}

// ListTasks returns tasks ordered by created_at descending.
func (s *Store) ListTasks(f ListTasksFilter) ([]Task, error) {
	q := s.db.Model(&Task{}).Order("created_at DESC")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var tasks []Task
	if err := q.Find(&tasks).Error; err != nil {
		return nil, apperr.StorageErrorf(err, "list tasks")
	}
	return tasks, nil
}

// GetTask returns the task with the given id.
func (s *Store) GetTask(id string) (*Task, error) {
	var t Task
	err := s.db.First(&t, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFoundf("task %s not found", id)
		}
		return nil, apperr.StorageErrorf(err, "get task %s", id)
	}
	return &t, nil
}

// GetTaskByGid returns the task bound to the given engine handle.
func (s *Store) GetTaskByGid(gid string) (*Task, error) {
	var t Task
	err := s.db.First(&t, "gid = ?", gid).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFoundf("task with gid %s not found", gid)
		}
		return nil, apperr.StorageErrorf(err, "get task by gid %s", gid)
	}
	return &t, nil
}

// RemoveTask deletes a task row and its files in one transaction.
func (s *Store) RemoveTask(id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", id).Delete(&TaskFile{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Task{}, "id = ?", id).Error
	})
}

// SetTaskCategory updates a single task's category.
func (s *Store) SetTaskCategory(id, category string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res := s.db.Model(&Task{}).Where("id = ?", id).Updates(map[string]interface{}{
		"category":   category,
		"updated_at": time.Now().Unix(),
	})
	if res.Error != nil {
		return apperr.StorageErrorf(res.Error, "set category for %s", id)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFoundf("task %s not found", id)
	}
	return nil
}

// ReplaceTaskFiles atomically replaces the file list of a task.
func (s *Store) ReplaceTaskFiles(taskID string, files []TaskFile) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", taskID).Delete(&TaskFile{}).Error; err != nil {
			return err
		}
		for i := range files {
			files[i].TaskID = taskID
			files[i].Position = i
			files[i].ID = 0
		}
		if len(files) == 0 {
			return nil
		}
		return tx.Create(&files).Error
	})
}

// ListTaskFiles returns a task's files ordered by position.
func (s *Store) ListTaskFiles(taskID string) ([]TaskFile, error) {
	var files []TaskFile
	if err := s.db.Where("task_id = ?", taskID).Order("position ASC").Find(&files).Error; err != nil {
		return nil, apperr.StorageErrorf(err, "list files for %s", taskID)
	}
	return files, nil
}

// TaskSnapshotUpdate is one row of an UpdateFromSnapshots batch.
type TaskSnapshotUpdate struct {
	ID            string
	Status        string
	Name          string
	Total         int64
	Completed     int64
	DownloadSpeed int64
	UploadSpeed   int64
	Connections   int
	ErrorCode     string
	ErrorMessage  string
}

// UpdateFromSnapshots applies a batch of engine-derived field updates
// in one transaction. Name is only overwritten when currently empty.
func (s *Store) UpdateFromSnapshots(updates []TaskSnapshotUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().Unix()
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			fields := map[string]interface{}{
				"status":         u.Status,
				"total":          u.Total,
				"completed":      u.Completed,
				"download_speed": u.DownloadSpeed,
				"upload_speed":   u.UploadSpeed,
				"connections":    u.Connections,
				"error_code":     u.ErrorCode,
				"error_message":  u.ErrorMessage,
				"updated_at":     now,
			}
			if u.Name != "" {
				if err := tx.Model(&Task{}).Where("id = ? AND (name IS NULL OR name = '')", u.ID).
					Update("name", u.Name).Error; err != nil {
					return err
				}
			}
			if err := tx.Model(&Task{}).Where("id = ?", u.ID).Updates(fields).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ---- Settings ----

// GetString returns the string value for key, or "" if absent.
func (s *Store) GetString(key string) (string, error) {
	var row Setting
	err := s.db.First(&row, "key = ?", key).Error
	if err == gorm.ErrRecordNotFound {
		return "", nil
	}
	if err != nil {
		return "", apperr.StorageErrorf(err, "get setting %s", key)
	}
	return row.Value, nil
}

// SetString sets key unconditionally.
func (s *Store) SetString(key, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	err := s.db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, UpdateAll: true}).
		Create(&Setting{Key: key, Value: value}).Error
	if err != nil {
		return apperr.StorageErrorf(err, "set setting %s", key)
	}
	return nil
}

// SetStringIfAbsent sets key only if it has no existing row.
func (s *Store) SetStringIfAbsent(key, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	var count int64
	if err := s.db.Model(&Setting{}).Where("key = ?", key).Count(&count).Error; err != nil {
		return apperr.StorageErrorf(err, "check setting %s", key)
	}
	if count > 0 {
		return nil
	}
	if err := s.db.Create(&Setting{Key: key, Value: value}).Error; err != nil {
		return apperr.StorageErrorf(err, "seed setting %s", key)
	}
	return nil
}

// ---- Operation logs ----

// AppendOperationLogs appends a batch and prunes rows beyond
// OperationLogRetention, all in one transaction.
func (s *Store) AppendOperationLogs(entries []OperationLog) error {
	if len(entries) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		for i := range entries {
			entries[i].ID = 0
		}
		if err := tx.Create(&entries).Error; err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&OperationLog{}).Count(&count).Error; err != nil {
			return err
		}
		if count <= OperationLogRetention {
			return nil
		}
		excess := count - OperationLogRetention
		return tx.Exec(`DELETE FROM operation_logs WHERE id IN (
			SELECT id FROM operation_logs ORDER BY id ASC LIMIT ?
		)`, excess).Error
	})
}

// ListOperationLogs returns the most recent limit entries, newest first.
func (s *Store) ListOperationLogs(limit int) ([]OperationLog, error) {
	q := s.db.Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []OperationLog
	if err := q.Find(&rows).Error; err != nil {
		return nil, apperr.StorageErrorf(err, "list operation logs")
	}
	return rows, nil
}

// ClearOperationLogs deletes all rows.
func (s *Store) ClearOperationLogs() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.db.Exec("DELETE FROM operation_logs").Error; err != nil {
		return apperr.StorageErrorf(err, "clear operation logs")
	}
	return nil
}

// ---- Tombstones ----

// MarkDeletedGid records a tombstone for gid.
func (s *Store) MarkDeletedGid(gid string) error {
	if gid == "" {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	err := s.db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "gid"}}, UpdateAll: true}).
		Create(&DeletedGid{Gid: gid, DeletedAt: time.Now().Unix()}).Error
	if err != nil {
		return apperr.StorageErrorf(err, "mark tombstone %s", gid)
	}
	return nil
}

// IsDeletedGid reports whether gid has a live tombstone.
func (s *Store) IsDeletedGid(gid string) (bool, error) {
	var count int64
	if err := s.db.Model(&DeletedGid{}).Where("gid = ?", gid).Count(&count).Error; err != nil {
		return false, apperr.StorageErrorf(err, "test tombstone %s", gid)
	}
	return count > 0, nil
}

// PruneDeletedGids removes tombstones older than DeletedGidTTLDays.
func (s *Store) PruneDeletedGids() (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	cutoff := time.Now().AddDate(0, 0, -DeletedGidTTLDays).Unix()
	res := s.db.Where("deleted_at < ?", cutoff).Delete(&DeletedGid{})
	if res.Error != nil {
		return 0, apperr.StorageErrorf(res.Error, "prune tombstones")
	}
	return res.RowsAffected, nil
}

// ---- Export / import ----

// ExportedState is the task-list export format (spec 6).
type ExportedState struct {
	Version    int        `json:"version"`
	ExportedAt int64      `json:"exported_at"`
	Tasks      []Task     `json:"tasks"`
	TaskFiles  []TaskFile `json:"task_files"`
}

const ExportFormatVersion = 1

// ExportTaskList returns every task and file row, ordered deterministically.
func (s *Store) ExportTaskList() (*ExportedState, error) {
	var tasks []Task
	if err := s.db.Order("created_at ASC").Find(&tasks).Error; err != nil {
		return nil, apperr.StorageErrorf(err, "export tasks")
	}
	var files []TaskFile
	if err := s.db.Order("task_id ASC, position ASC").Find(&files).Error; err != nil {
		return nil, apperr.StorageErrorf(err, "export task files")
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].CreatedAt < tasks[j].CreatedAt })
	return &ExportedState{
		Version:    ExportFormatVersion,
		ExportedAt: time.Now().Unix(),
		Tasks:      tasks,
		TaskFiles:  files,
	}, nil
}

// ImportTaskList inserts tasks and files from an export, resetting each
// task's engine handle to empty so the reconciler treats them as fresh.
func (s *Store) ImportTaskList(state *ExportedState) error {
	if state.Version != ExportFormatVersion {
		return apperr.InvalidInputf("unsupported export version %d", state.Version)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		for i := range state.Tasks {
			state.Tasks[i].Gid = ""
		}
		for i := range state.Tasks {
			if err := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
				Create(&state.Tasks[i]).Error; err != nil {
				return err
			}
		}
		for i := range state.TaskFiles {
			state.TaskFiles[i].ID = 0
			if err := tx.Create(&state.TaskFiles[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
