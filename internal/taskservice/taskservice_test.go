package taskservice

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lc5900/flamingo-downloader/internal/engine"
	"github.com/lc5900/flamingo-downloader/internal/enginetest"
	"github.com/lc5900/flamingo-downloader/internal/events"
	"github.com/lc5900/flamingo-downloader/internal/oplog"
	"github.com/lc5900/flamingo-downloader/internal/store"
)

var _ EngineLifecycle = (*enginetest.Fake)(nil)

func newHarness(t *testing.T) (*Service, *store.Store, *enginetest.Fake) {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	defaults := store.DefaultGlobalSettings()
	defaults.DownloadDir = t.TempDir()
	require.NoError(t, st.SaveGlobalSettings(defaults))

	fake := enginetest.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(st, fake, oplog.New(), events.NullEmitter{}, log)
	return svc, st, fake
}

func TestAddURLRejectsUnsupportedScheme(t *testing.T) {
	svc, _, _ := newHarness(t)
	_, err := svc.AddURL(context.Background(), "ftps://example.com/x", AddOptions{})
	require.Error(t, err)
}

func TestAddURLCreatesQueuedTask(t *testing.T) {
	svc, st, fake := newHarness(t)
	task, err := svc.AddURL(context.Background(), "https://example.com/movie.mp4", AddOptions{})
	require.NoError(t, err)
	require.Equal(t, store.StatusQueued, task.Status)
	require.Contains(t, fake.Calls(), "AddURI")

	fromStore, err := st.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, task.Gid, fromStore.Gid)
}

func TestAddMagnetRejectsNonMagnet(t *testing.T) {
	svc, _, _ := newHarness(t)
	_, err := svc.AddMagnet(context.Background(), "http://example.com", AddOptions{})
	require.Error(t, err)
}

func TestAddMagnetStartsInMetadataStatus(t *testing.T) {
	svc, _, _ := newHarness(t)
	task, err := svc.AddMagnet(context.Background(), "magnet:?xt=urn:btih:abc", AddOptions{})
	require.NoError(t, err)
	require.Equal(t, store.StatusMetadata, task.Status)
}

func TestAddTorrentFromBase64(t *testing.T) {
	svc, _, fake := newHarness(t)
	task, err := svc.AddTorrentFromBase64(context.Background(), "ZmFrZS10b3JyZW50", AddOptions{Category: "movies"})
	require.NoError(t, err)
	require.Equal(t, "movies", task.Category)
	require.Contains(t, fake.Calls(), "AddTorrent")
}

func TestPauseAndResumeForwardToEngine(t *testing.T) {
	svc, st, fake := newHarness(t)
	task, err := svc.AddURL(context.Background(), "https://example.com/a.bin", AddOptions{})
	require.NoError(t, err)

	require.NoError(t, svc.Pause(context.Background(), task.ID))
	require.NoError(t, svc.Resume(context.Background(), task.ID))
	require.Contains(t, fake.Calls(), "Pause")
	require.Contains(t, fake.Calls(), "Unpause")
	_, _ = st.GetTask(task.ID)
}

func TestRemoveTaskTombstonesBeforeRemoving(t *testing.T) {
	svc, st, fake := newHarness(t)
	task, err := svc.AddURL(context.Background(), "https://example.com/a.bin", AddOptions{})
	require.NoError(t, err)

	require.NoError(t, svc.RemoveTask(context.Background(), task.ID, false))

	deleted, err := st.IsDeletedGid(task.Gid)
	require.NoError(t, err)
	require.True(t, deleted)

	_, err = st.GetTask(task.ID)
	require.Error(t, err)
	require.Contains(t, fake.Calls(), "Remove")
}

func TestMoveTaskPositionRefusesCompletedTask(t *testing.T) {
	svc, st, _ := newHarness(t)
	task, err := svc.AddURL(context.Background(), "https://example.com/a.bin", AddOptions{})
	require.NoError(t, err)
	require.NoError(t, st.UpdateFromSnapshots([]store.TaskSnapshotUpdate{{ID: task.ID, Status: store.StatusCompleted}}))

	err = svc.MoveTaskPosition(context.Background(), task.ID, ReorderTop)
	require.Error(t, err)
}

func TestMoveTaskPositionTranslatesActions(t *testing.T) {
	svc, _, fake := newHarness(t)
	task, err := svc.AddURL(context.Background(), "https://example.com/a.bin", AddOptions{})
	require.NoError(t, err)

	require.NoError(t, svc.MoveTaskPosition(context.Background(), task.ID, ReorderUp))
	require.Contains(t, fake.Calls(), "ChangePosition")
}

func TestStopSeedingOnlyAppliesToTorrentOrMagnet(t *testing.T) {
	svc, _, _ := newHarness(t)
	task, err := svc.AddURL(context.Background(), "https://example.com/a.bin", AddOptions{})
	require.NoError(t, err)

	err = svc.StopSeeding(context.Background(), task.ID)
	require.Error(t, err)
}

func TestGetTaskDetailRefreshesFromEngine(t *testing.T) {
	svc, _, fake := newHarness(t)
	task, err := svc.AddURL(context.Background(), "https://example.com/a.bin", AddOptions{})
	require.NoError(t, err)

	fake.MutateTask(task.Gid, func(s *engine.Snapshot) {
		s.Status = "active"
		s.Total = 1000
		s.Completed = 500
	})

	detail, err := svc.GetTaskDetail(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusActive, detail.Status)
	require.Equal(t, int64(500), detail.Completed)
}

func TestSetTaskFileSelectionSendsOneBasedCSV(t *testing.T) {
	svc, _, fake := newHarness(t)
	task, err := svc.AddURL(context.Background(), "https://example.com/a.bin", AddOptions{})
	require.NoError(t, err)

	require.NoError(t, svc.SetTaskFileSelection(context.Background(), task.ID, []int{0, 2}))
	require.Contains(t, fake.Calls(), "ChangeOption")
}

func TestSetTaskRuntimeOptionsFiltersNonWhitelisted(t *testing.T) {
	svc, _, fake := newHarness(t)
	task, err := svc.AddURL(context.Background(), "https://example.com/a.bin", AddOptions{})
	require.NoError(t, err)

	require.NoError(t, svc.SetTaskRuntimeOptions(context.Background(), task.ID, map[string]string{
		"max-download-limit": "1M",
		"dangerous-option":   "x",
	}))
	require.Contains(t, fake.Calls(), "ChangeOption")
}

func TestRotateBrowserBridgeTokenPersists(t *testing.T) {
	svc, st, _ := newHarness(t)
	token, err := svc.RotateBrowserBridgeToken()
	require.NoError(t, err)
	require.NotEmpty(t, token)

	stored, err := st.GetString(store.KeyBridgeToken)
	require.NoError(t, err)
	require.Equal(t, token, stored)
}

func TestConsumeStartupNoticeOnlyFiresOnce(t *testing.T) {
	svc, st, _ := newHarness(t)
	require.NoError(t, st.SetString(store.KeyStartupNotice, "welcome"))

	first, err := svc.ConsumeStartupNotice()
	require.NoError(t, err)
	require.Equal(t, "welcome", first)

	second, err := svc.ConsumeStartupNotice()
	require.NoError(t, err)
	require.Equal(t, "", second)
}
