package reconciler

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lc5900/flamingo-downloader/internal/engine"
	"github.com/lc5900/flamingo-downloader/internal/enginetest"
	"github.com/lc5900/flamingo-downloader/internal/store"
)

func newHarness(t *testing.T) (*Reconciler, *store.Store, *enginetest.Fake) {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	fake := enginetest.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(st, fake, log, func() string { return "/downloads" })
	return r, st, fake
}

func TestReconcileAdoptsOrphan(t *testing.T) {
	r, st, fake := newHarness(t)
	fake.SeedTask(engine.Snapshot{Gid: "G1", Status: "active", Total: 1024, Completed: 128, Name: "orphan.bin"})

	adopted, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, adopted)

	task, err := st.GetTaskByGid("G1")
	require.NoError(t, err)
	require.Equal(t, "engine:recovered:G1", task.Source)
	require.Equal(t, store.StatusActive, task.Status)
}

func TestReconcileIsIdempotent(t *testing.T) {
	r, _, fake := newHarness(t)
	fake.SeedTask(engine.Snapshot{Gid: "G1", Status: "active", Total: 1024, Completed: 128})

	first, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first)

	second, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, second)
}

func TestReconcileSuppressesTombstonedGid(t *testing.T) {
	r, st, fake := newHarness(t)
	require.NoError(t, st.MarkDeletedGid("G1"))
	fake.SeedTask(engine.Snapshot{Gid: "G1", Status: "active", Total: 1024, Completed: 128})

	adopted, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, adopted)

	_, err = st.GetTaskByGid("G1")
	require.Error(t, err)

	calls := fake.Calls()
	require.Contains(t, calls, "Remove")
	require.Contains(t, calls, "RemoveDownloadResult")
}

func TestReconcileTombstonesTerminalOrphan(t *testing.T) {
	r, st, fake := newHarness(t)
	fake.SeedTask(engine.Snapshot{Gid: "G1", Status: "complete", Total: 1024, Completed: 1024})

	adopted, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, adopted)

	deleted, err := st.IsDeletedGid("G1")
	require.NoError(t, err)
	require.True(t, deleted)

	_, err = st.GetTaskByGid("G1")
	require.Error(t, err)
}

func TestReconcileTombstonesEmptyMetadatalessOrphan(t *testing.T) {
	r, st, fake := newHarness(t)
	fake.SeedTask(engine.Snapshot{Gid: "G1", Status: "waiting", Total: 0, Completed: 0})

	adopted, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, adopted)

	deleted, err := st.IsDeletedGid("G1")
	require.NoError(t, err)
	require.True(t, deleted)
}

func TestReconcileUpdatesExistingTaskAndKeepsName(t *testing.T) {
	r, st, fake := newHarness(t)
	require.NoError(t, st.UpsertTask(&store.Task{
		ID: "t1", Gid: "G1", Kind: store.KindHTTP, Source: "user", Status: store.StatusActive,
		Name: "keep-me.bin", SaveDir: "/downloads",
	}))
	fake.SeedTask(engine.Snapshot{Gid: "G1", Status: "active", Total: 2048, Completed: 1024, Name: "engine-reported.bin"})

	adopted, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, adopted)

	task, err := st.GetTask("t1")
	require.NoError(t, err)
	require.Equal(t, "keep-me.bin", task.Name)
	require.EqualValues(t, 2048, task.Total)
	require.EqualValues(t, 1024, task.Completed)
}

func TestReconcilePurgesStalePlaceholders(t *testing.T) {
	r, st, _ := newHarness(t)
	require.NoError(t, st.UpsertTask(&store.Task{
		ID: "stale1", Source: "engine:recovered:Gdead", Status: store.StatusError,
		Total: 0, Completed: 0, SaveDir: "/downloads",
	}))

	_, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	_, err = st.GetTask("stale1")
	require.Error(t, err)
}
