// Package syncloop is the single cooperative 1 Hz task that reconciles
// engine snapshots into the store, applies the speed plan, the retry
// and metadata-timeout policies, and completion rules.
package syncloop

import (
	"context"
	"log/slog"
	"time"

	"github.com/lc5900/flamingo-downloader/internal/engine"
	"github.com/lc5900/flamingo-downloader/internal/events"
	"github.com/lc5900/flamingo-downloader/internal/oplog"
	"github.com/lc5900/flamingo-downloader/internal/store"
)

const (
	tickInterval        = 1 * time.Second
	logFlushInterval    = 2 * time.Second
	speedPlanEveryTicks = 30
	retryEveryTicks     = 5
	clearCompletedEvery = 300
)

// SettingsProvider returns the currently configured global settings.
// The sync loop re-reads it every tick so a live settings change takes
// effect on the next cycle without a restart.
type SettingsProvider func() store.GlobalSettings

type Loop struct {
	store    *store.Store
	engine   engine.Engine
	emitter  events.Emitter
	opLog    *oplog.Buffer
	log      *slog.Logger
	settings SettingsProvider

	tickCount          int
	lastAppliedLimit   string
	hasAppliedAnyLimit bool
}

func New(st *store.Store, eng engine.Engine, emitter events.Emitter, ol *oplog.Buffer, log *slog.Logger, settings SettingsProvider) *Loop {
	return &Loop{store: st, engine: eng, emitter: emitter, opLog: ol, log: log, settings: settings}
}

// Run blocks, ticking at 1 Hz and flushing operation logs every 2s,
// until ctx is canceled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	flushTicker := time.NewTicker(logFlushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-flushTicker.C:
			l.flushLogs()
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) flushLogs() {
	entries := l.opLog.Drain()
	if len(entries) == 0 {
		return
	}
	if err := l.store.AppendOperationLogs(entries); err != nil {
		l.log.Warn("flush operation logs failed", "error", err)
	}
}

// tick performs one cycle. A failed tellAll aborts the tick before any
// snapshot is written, completion rule applied or event emitted; the
// next tick retries. Speed-plan and retry RPC failures are logged and
// do not abort the tick.
func (l *Loop) tick(ctx context.Context) {
	l.flushLogs()
	l.tickCount++

	cfg := l.settings()

	if l.tickCount%speedPlanEveryTicks == 0 {
		l.applySpeedPlan(ctx, cfg)
	}
	if l.tickCount%retryEveryTicks == 0 {
		l.applyRetryAndMetadataTimeout(ctx, cfg)
	}

	changed, err := l.syncFromEngine(ctx)
	if err != nil {
		l.log.Warn("sync tick aborted", "error", err)
		return
	}

	l.applyCompletionRules(changed, cfg)

	if l.tickCount%clearCompletedEvery == 0 && cfg.AutoClearCompletedDays > 0 {
		l.clearOldCompletedTasks(cfg.AutoClearCompletedDays)
	}

	if len(changed) > 0 {
		l.emitter.EmitTaskUpdate(changed)
	}
}

// syncFromEngine fetches tellAll, persists the batch, replaces file
// lists for tasks whose snapshot carries files, and returns the
// up-to-date rows for every task that was touched.
func (l *Loop) syncFromEngine(ctx context.Context) ([]store.Task, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	snapshots, err := l.engine.TellAll(rpcCtx)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, nil
	}

	updates := make([]store.TaskSnapshotUpdate, 0, len(snapshots))
	gidToFiles := map[string][]engine.FileSnapshot{}
	changedIDs := make([]string, 0, len(snapshots))

	for _, snap := range snapshots {
		task, err := l.store.GetTaskByGid(snap.Gid)
		if err != nil {
			continue // not our task (orphan adoption is the reconciler's job)
		}
		updates = append(updates, store.TaskSnapshotUpdate{
			ID:            task.ID,
			Status:        snap.Status,
			Total:         snap.Total,
			Completed:     snap.Completed,
			DownloadSpeed: snap.DownloadSpeed,
			UploadSpeed:   snap.UploadSpeed,
			Connections:   int(snap.Connections),
			ErrorCode:     snap.ErrorCode,
			ErrorMessage:  snap.ErrorMessage,
			Name:          nameIfEmpty(task.Name, snap.Name),
		})
		changedIDs = append(changedIDs, task.ID)
		if len(snap.Files) > 0 {
			gidToFiles[task.ID] = snap.Files
		}
	}

	if err := l.store.UpdateFromSnapshots(updates); err != nil {
		return nil, err
	}
	for taskID, files := range gidToFiles {
		storeFiles := make([]store.TaskFile, 0, len(files))
		for _, f := range files {
			storeFiles = append(storeFiles, store.TaskFile{
				Path: f.Path, Length: f.Length, CompletedLength: f.CompletedLength, Selected: f.Selected,
			})
		}
		if err := l.store.ReplaceTaskFiles(taskID, storeFiles); err != nil {
			l.log.Warn("replace task files failed", "task", taskID, "error", err)
		}
	}

	changed := make([]store.Task, 0, len(changedIDs))
	for _, id := range changedIDs {
		if t, err := l.store.GetTask(id); err == nil {
			changed = append(changed, *t)
		}
	}
	return changed, nil
}

func nameIfEmpty(current, candidate string) string {
	if current != "" {
		return ""
	}
	return candidate
}

func (l *Loop) applySpeedPlan(ctx context.Context, cfg store.GlobalSettings) {
	rules := ParseSpeedPlan(cfg.SpeedPlan)
	limit := SelectSpeedLimit(rules, time.Now())
	if l.hasAppliedAnyLimit && limit == l.lastAppliedLimit {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := l.engine.ChangeGlobalOption(opCtx, map[string]string{"max-overall-download-limit": limit}); err != nil {
		l.log.Warn("apply speed plan failed", "error", err)
		l.opLog.Append("apply_speed_plan", err.Error())
		return
	}
	l.lastAppliedLimit = limit
	l.hasAppliedAnyLimit = true
}

func (l *Loop) applyRetryAndMetadataTimeout(ctx context.Context, cfg store.GlobalSettings) {
	now := time.Now()
	mirrors := splitMirrors(cfg.RetryFallbackMirrors)

	metaTasks, err := l.store.ListTasks(store.ListTasksFilter{Status: store.StatusMetadata})
	if err == nil {
		for _, task := range metaTasks {
			if applyMetadataTimeout(&task, now, cfg.MetadataTimeoutSecs) {
				l.persistRetryState(task)
				l.opLog.Append("auto_retry", "metadata timeout for task "+task.ID)
			}
		}
	}

	errorTasks, err := l.store.ListTasks(store.ListTasksFilter{Status: store.StatusError})
	if err != nil {
		return
	}
	for _, task := range errorTasks {
		decision := planRetry(task, now, cfg.RetryMaxAttempts, cfg.RetryBackoffSecs, mirrors)
		if !decision.ShouldRetry {
			continue
		}
		l.resubmitTask(ctx, task, decision, cfg)
	}
}

func (l *Loop) resubmitTask(ctx context.Context, task store.Task, decision retryDecision, cfg store.GlobalSettings) {
	source := task.Source
	if decision.NewSource != "" {
		source = decision.NewSource
	}

	rpcCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var gid string
	var err error
	switch task.Kind {
	case store.KindHTTP:
		gid, err = l.engine.AddURI(rpcCtx, []string{source}, map[string]string{"dir": task.SaveDir})
	case store.KindMagnet:
		gid, err = l.engine.AddURI(rpcCtx, []string{source}, map[string]string{"dir": task.SaveDir})
	default:
		return // torrent/metalink retries require file bytes the sync loop does not hold
	}

	if err != nil {
		l.opLog.Append("auto_retry", "resubmit failed for task "+task.ID+": "+err.Error())
		task.NextRetryAt = nextRetryAt(time.Now(), cfg.RetryBackoffSecs, task.RetryAttempts+1)
		l.persistRetryState(task)
		return
	}

	task.Gid = gid
	task.Source = source
	task.Status = store.StatusQueued
	task.ErrorCode = ""
	task.ErrorMessage = ""
	task.RetryAttempts++
	task.NextRetryAt = nextRetryAt(time.Now(), cfg.RetryBackoffSecs, task.RetryAttempts)
	if err := l.store.UpsertTask(&task); err != nil {
		l.log.Warn("persist retry task failed", "task", task.ID, "error", err)
	}
}

func (l *Loop) persistRetryState(task store.Task) {
	if err := l.store.UpsertTask(&task); err != nil {
		l.log.Warn("persist task state failed", "task", task.ID, "error", err)
	}
}

func (l *Loop) applyCompletionRules(changed []store.Task, cfg store.GlobalSettings) {
	if !cfg.AutoDeleteControlFiles {
		return
	}
	for _, task := range changed {
		if task.Status != store.StatusCompleted {
			continue
		}
		files, err := l.store.ListTaskFiles(task.ID)
		firstPath := ""
		if err == nil && len(files) > 0 {
			firstPath = files[0].Path
		}
		primary := primaryFilePath(task.SaveDir, task.Name, firstPath)
		removeControlFileIfPresent(primary)
	}
}

func (l *Loop) clearOldCompletedTasks(autoClearDays int) {
	cutoff := time.Now().AddDate(0, 0, -autoClearDays).Unix()
	tasks, err := l.store.ListTasks(store.ListTasksFilter{Status: store.StatusCompleted})
	if err != nil {
		return
	}
	for _, task := range tasks {
		if task.UpdatedAt < cutoff {
			if err := l.store.RemoveTask(task.ID); err != nil {
				l.log.Warn("clear old completed task failed", "task", task.ID, "error", err)
			}
		}
	}
}
