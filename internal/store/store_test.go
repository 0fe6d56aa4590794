package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTaskCRUD(t *testing.T) {
	s := newTestStore(t)

	task := &Task{ID: "t1", Kind: KindHTTP, Source: "https://example.com/a.bin", Status: StatusQueued, SaveDir: "/downloads"}
	require.NoError(t, s.UpsertTask(task))

	got, err := s.GetTask("t1")
	require.NoError(t, err)
	require.Equal(t, "t1", got.ID)
	require.GreaterOrEqual(t, got.UpdatedAt, got.CreatedAt)

	got.Status = StatusCompleted
	got.Completed = 1024
	got.Total = 1024
	require.NoError(t, s.UpsertTask(got))

	list, err := s.ListTasks(ListTasksFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, StatusCompleted, list[0].Status)

	require.NoError(t, s.RemoveTask("t1"))
	_, err = s.GetTask("t1")
	require.Error(t, err)
}

func TestGetTaskByGidNoDuplicates(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertTask(&Task{ID: "a", Gid: "G1", Kind: KindHTTP, Status: StatusActive}))

	dup := &Task{ID: "b", Gid: "G1", Kind: KindHTTP, Status: StatusActive}
	err := s.UpsertTask(dup)
	require.Error(t, err, "a second task must not be allowed to hold the same gid")
}

func TestReplaceTaskFiles(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertTask(&Task{ID: "t1", Kind: KindTorrent, Status: StatusActive}))

	files := []TaskFile{
		{Path: "a.mkv", Length: 100, Selected: true},
		{Path: "b.srt", Length: 10, Selected: false},
	}
	require.NoError(t, s.ReplaceTaskFiles("t1", files))

	got, err := s.ListTaskFiles("t1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a.mkv", got[0].Path)

	require.NoError(t, s.ReplaceTaskFiles("t1", []TaskFile{{Path: "c.mkv", Length: 5}}))
	got, err = s.ListTaskFiles("t1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "c.mkv", got[0].Path)
}

func TestOperationLogRetention(t *testing.T) {
	s := newTestStore(t)

	var batch []OperationLog
	for i := 0; i < OperationLogRetention+50; i++ {
		batch = append(batch, OperationLog{Ts: int64(i), Action: "test", Message: "m"})
	}
	require.NoError(t, s.AppendOperationLogs(batch))

	logs, err := s.ListOperationLogs(0)
	require.NoError(t, err)
	require.LessOrEqual(t, len(logs), OperationLogRetention)
}

func TestTombstones(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.MarkDeletedGid("G1"))
	ok, err := s.IsDeletedGid("G1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.IsDeletedGid("G2")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGlobalSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	g := DefaultGlobalSettings()
	g.DownloadDir = "/downloads"
	g.EngineBinPath = "/usr/bin/aria2c"
	g.MaxConcurrentDownloads = 3

	require.NoError(t, s.SaveGlobalSettings(g))
	loaded, err := s.LoadGlobalSettings()
	require.NoError(t, err)
	require.Equal(t, g.DownloadDir, loaded.DownloadDir)
	require.Equal(t, g.MaxConcurrentDownloads, loaded.MaxConcurrentDownloads)

	require.NoError(t, s.SaveGlobalSettings(loaded))
	reloaded, err := s.LoadGlobalSettings()
	require.NoError(t, err)
	require.Equal(t, loaded, reloaded)
}

func TestValidateRuntimeSettings(t *testing.T) {
	g := DefaultGlobalSettings()
	g.DownloadDir = "/downloads"
	require.NoError(t, ValidateRuntimeSettings(g))

	bad := g
	bad.DownloadDir = ""
	require.Error(t, ValidateRuntimeSettings(bad))

	bad = g
	bad.Split = 0
	require.Error(t, ValidateRuntimeSettings(bad))
}

func TestExportImportRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertTask(&Task{ID: "t1", Gid: "G1", Kind: KindHTTP, Status: StatusActive, Name: "a.bin"}))
	require.NoError(t, s.ReplaceTaskFiles("t1", []TaskFile{{Path: "a.bin", Length: 10}}))

	exported, err := s.ExportTaskList()
	require.NoError(t, err)
	require.Len(t, exported.Tasks, 1)

	require.NoError(t, s.RemoveTask("t1"))
	require.NoError(t, s.ImportTaskList(exported))

	got, err := s.GetTask("t1")
	require.NoError(t, err)
	require.Empty(t, got.Gid, "import must reset the engine handle")

	reexported, err := s.ExportTaskList()
	require.NoError(t, err)
	require.Equal(t, len(exported.Tasks), len(reexported.Tasks))
	require.Equal(t, len(exported.TaskFiles), len(reexported.TaskFiles))
}
