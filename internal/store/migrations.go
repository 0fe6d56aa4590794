package store

import (
	"fmt"

	"gorm.io/gorm"
)

// migration is one monotonic schema step. Steps apply in ascending
// Version order; the database's current version (PRAGMA user_version)
// records the highest step already applied.
type migration struct {
	Version int
	Name    string
	Apply   func(tx *gorm.DB) error
}

var migrations = []migration{
	{1, "create core tables", migrateCreateCoreTables},
	{2, "add status/gid/task_id/ts indexes", migrateAddIndexes},
	{3, "add category column", migrateAddCategoryColumn},
	{4, "add tombstone and media merge tables", migrateAddTombstoneAndMergeTables},
}

func migrateCreateCoreTables(tx *gorm.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			gid TEXT,
			kind TEXT NOT NULL,
			source TEXT NOT NULL,
			status TEXT NOT NULL,
			name TEXT,
			save_dir TEXT,
			total INTEGER NOT NULL DEFAULT 0,
			completed INTEGER NOT NULL DEFAULT 0,
			download_speed INTEGER NOT NULL DEFAULT 0,
			upload_speed INTEGER NOT NULL DEFAULT 0,
			connections INTEGER NOT NULL DEFAULT 0,
			error_code TEXT,
			error_message TEXT,
			retry_attempts INTEGER NOT NULL DEFAULT 0,
			next_retry_at INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			position INTEGER NOT NULL DEFAULT 0,
			path TEXT NOT NULL,
			length INTEGER NOT NULL DEFAULT 0,
			completed_length INTEGER NOT NULL DEFAULT 0,
			selected INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS operation_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			action TEXT NOT NULL,
			message TEXT NOT NULL
		)`,
	}
	for _, s := range stmts {
		if err := tx.Exec(s).Error; err != nil {
			return err
		}
	}
	return nil
}

func migrateAddIndexes(tx *gorm.DB) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_gid ON tasks(gid) WHERE gid IS NOT NULL AND gid != ''`,
		`CREATE INDEX IF NOT EXISTS idx_task_files_task_id ON task_files(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_operation_logs_ts ON operation_logs(ts)`,
	}
	for _, s := range stmts {
		if err := tx.Exec(s).Error; err != nil {
			return err
		}
	}
	return nil
}

func migrateAddCategoryColumn(tx *gorm.DB) error {
	var count int64
	if err := tx.Raw(`SELECT COUNT(*) FROM pragma_table_info('tasks') WHERE name = 'category'`).Scan(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		if err := tx.Exec(`ALTER TABLE tasks ADD COLUMN category TEXT`).Error; err != nil {
			return err
		}
	}
	return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_tasks_category ON tasks(category)`).Error
}

func migrateAddTombstoneAndMergeTables(tx *gorm.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS deleted_gids (
			gid TEXT PRIMARY KEY,
			deleted_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS media_merge_jobs (
			task_id TEXT PRIMARY KEY,
			pid INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, s := range stmts {
		if err := tx.Exec(s).Error; err != nil {
			return err
		}
	}
	return nil
}

// runMigrations reads the database's current schema version from
// PRAGMA user_version and applies any missing steps in order, each
// inside its own transaction, bumping the version after each success.
func runMigrations(db *gorm.DB) error {
	var version int
	if err := db.Raw("PRAGMA user_version").Scan(&version).Error; err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= version {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := m.Apply(tx); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
			}
			return tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)).Error
		})
		if err != nil {
			return err
		}
	}
	return nil
}
