// Package reconciler maps engine snapshots onto the store, recovering
// orphaned downloads, enforcing tombstones, and purging stale
// placeholders left over from a prior run.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/lc5900/flamingo-downloader/internal/engine"
	"github.com/lc5900/flamingo-downloader/internal/store"
)

const recoveredSourcePrefix = "engine:recovered:"

type Reconciler struct {
	store   *store.Store
	engine  engine.Engine
	log     *slog.Logger
	saveDir func() string // returns the currently configured default download dir
}

func New(st *store.Store, eng engine.Engine, log *slog.Logger, saveDir func() string) *Reconciler {
	return &Reconciler{store: st, engine: eng, log: log, saveDir: saveDir}
}

const rpcTimeout = 5 * time.Second

// Reconcile runs one full reconciliation pass and returns the count of
// orphans adopted. It is idempotent: running it twice with no engine
// changes in between adopts 0 orphans the second time.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	if _, err := r.store.PruneDeletedGids(); err != nil {
		r.log.Warn("prune tombstones failed", "error", err)
	}

	if err := r.purgeStalePlaceholders(); err != nil {
		r.log.Warn("purge stale placeholders failed", "error", err)
	}

	snapCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	snapshots, err := r.engine.TellAll(snapCtx)
	if err != nil {
		return 0, err
	}

	adopted := 0
	for _, snap := range snapshots {
		did, err := r.reconcileOne(ctx, snap)
		if err != nil {
			r.log.Warn("reconcile snapshot failed", "gid", snap.Gid, "error", err)
			continue
		}
		if did {
			adopted++
		}
	}
	return adopted, nil
}

// purgeStalePlaceholders removes recovered-placeholder rows left over
// from a crashed or restarted process that never got a real update:
// status=Error, zero bytes either side, source tagged as recovered.
func (r *Reconciler) purgeStalePlaceholders() error {
	tasks, err := r.store.ListTasks(store.ListTasksFilter{Status: store.StatusError})
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if len(t.Source) > len(recoveredSourcePrefix) && t.Source[:len(recoveredSourcePrefix)] == recoveredSourcePrefix &&
			t.Total == 0 && t.Completed == 0 {
			if err := r.store.RemoveTask(t.ID); err != nil {
				r.log.Warn("purge stale placeholder failed", "task", t.ID, "error", err)
			}
		}
	}
	return nil
}

// reconcileOne applies step 4 of the reconciliation algorithm to a
// single engine snapshot, returning whether a new orphan was adopted.
func (r *Reconciler) reconcileOne(ctx context.Context, snap engine.Snapshot) (bool, error) {
	existing, err := r.store.GetTaskByGid(snap.Gid)
	if err == nil {
		return false, r.updateExisting(existing, snap)
	}

	tombstoned, tErr := r.store.IsDeletedGid(snap.Gid)
	if tErr != nil {
		return false, tErr
	}
	if tombstoned {
		r.forceRemoveFromEngine(ctx, snap.Gid)
		return false, nil
	}

	if engine.IsTerminal(snap.Status) {
		r.tombstoneAndCleanup(ctx, snap.Gid)
		return false, nil
	}
	if snap.Total == 0 && snap.Completed == 0 {
		r.tombstoneAndCleanup(ctx, snap.Gid)
		return false, nil
	}

	return true, r.adoptOrphan(snap)
}

// updateExisting applies counters, status, error, and name (only if
// previously empty) to a task already bound to this gid. A terminal
// snapshot on a zero-byte recovered placeholder is tombstoned and
// removed rather than persisted, since it never represented real
// progress.
func (r *Reconciler) updateExisting(task *store.Task, snap engine.Snapshot) error {
	isRecoveredPlaceholder := len(task.Source) > len(recoveredSourcePrefix) &&
		task.Source[:len(recoveredSourcePrefix)] == recoveredSourcePrefix

	if engine.IsTerminal(snap.Status) && isRecoveredPlaceholder && task.Total == 0 && task.Completed == 0 {
		if err := r.store.MarkDeletedGid(snap.Gid); err != nil {
			return err
		}
		if err := r.store.RemoveTask(task.ID); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 1200*time.Millisecond)
		defer cancel()
		_ = r.engine.RemoveDownloadResult(ctx, snap.Gid)
		return nil
	}

	update := store.TaskSnapshotUpdate{
		ID:            task.ID,
		Status:        snap.Status,
		Total:         snap.Total,
		Completed:     snap.Completed,
		DownloadSpeed: snap.DownloadSpeed,
		UploadSpeed:   snap.UploadSpeed,
		Connections:   int(snap.Connections),
		ErrorCode:     snap.ErrorCode,
		ErrorMessage:  snap.ErrorMessage,
	}
	if task.Name == "" {
		update.Name = snap.Name
	}
	if err := r.store.UpdateFromSnapshots([]store.TaskSnapshotUpdate{update}); err != nil {
		return err
	}
	if len(snap.Files) > 0 {
		files := make([]store.TaskFile, 0, len(snap.Files))
		for _, f := range snap.Files {
			files = append(files, store.TaskFile{
				Path:            f.Path,
				Length:          f.Length,
				CompletedLength: f.CompletedLength,
				Selected:        f.Selected,
			})
		}
		if err := r.store.ReplaceTaskFiles(task.ID, files); err != nil {
			return err
		}
	}
	return nil
}

// adoptOrphan creates a new recovered-placeholder task bound to gid.
func (r *Reconciler) adoptOrphan(snap engine.Snapshot) error {
	now := time.Now().Unix()
	task := &store.Task{
		ID:            newTaskID(),
		Gid:           snap.Gid,
		Kind:          store.KindHTTP,
		Source:        recoveredSourcePrefix + snap.Gid,
		Status:        snap.Status,
		Name:          snap.Name,
		SaveDir:       r.saveDir(),
		Total:         snap.Total,
		Completed:     snap.Completed,
		DownloadSpeed: snap.DownloadSpeed,
		UploadSpeed:   snap.UploadSpeed,
		Connections:   int(snap.Connections),
		ErrorCode:     snap.ErrorCode,
		ErrorMessage:  snap.ErrorMessage,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.store.UpsertTask(task); err != nil {
		return err
	}
	if len(snap.Files) == 0 {
		return nil
	}
	files := make([]store.TaskFile, 0, len(snap.Files))
	for _, f := range snap.Files {
		files = append(files, store.TaskFile{
			Path:            f.Path,
			Length:          f.Length,
			CompletedLength: f.CompletedLength,
			Selected:        f.Selected,
		})
	}
	return r.store.ReplaceTaskFiles(task.ID, files)
}

// tombstoneAndCleanup marks gid deleted without ever creating a task
// row for it: used for terminal or metadata-less empty orphans that
// the user never had a chance to see.
func (r *Reconciler) tombstoneAndCleanup(ctx context.Context, gid string) {
	if err := r.store.MarkDeletedGid(gid); err != nil {
		r.log.Warn("tombstone orphan failed", "gid", gid, "error", err)
	}
	r.forceRemoveFromEngine(ctx, gid)
}

func (r *Reconciler) forceRemoveFromEngine(ctx context.Context, gid string) {
	removeCtx, cancel := context.WithTimeout(ctx, 1200*time.Millisecond)
	_ = r.engine.Remove(removeCtx, gid, true)
	cancel()

	resultCtx, cancel2 := context.WithTimeout(ctx, 1200*time.Millisecond)
	_ = r.engine.RemoveDownloadResult(resultCtx, gid)
	cancel2()
}
