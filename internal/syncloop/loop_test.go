package syncloop

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lc5900/flamingo-downloader/internal/engine"
	"github.com/lc5900/flamingo-downloader/internal/enginetest"
	"github.com/lc5900/flamingo-downloader/internal/oplog"
	"github.com/lc5900/flamingo-downloader/internal/store"
)

type capturingEmitter struct {
	batches [][]store.Task
}

func (c *capturingEmitter) EmitTaskUpdate(tasks []store.Task) {
	c.batches = append(c.batches, tasks)
}

func newHarness(t *testing.T) (*Loop, *store.Store, *enginetest.Fake, *capturingEmitter) {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	fake := enginetest.New()
	emitter := &capturingEmitter{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := store.DefaultGlobalSettings()
	loop := New(st, fake, emitter, oplog.New(), log, func() store.GlobalSettings { return cfg })
	return loop, st, fake, emitter
}

func TestTickUpdatesKnownTaskAndEmits(t *testing.T) {
	loop, st, fake, emitter := newHarness(t)

	require.NoError(t, st.UpsertTask(&store.Task{
		ID: "t1", Gid: "G1", Kind: store.KindHTTP, Status: store.StatusActive, SaveDir: "/downloads",
	}))
	fake.SeedTask(engine.Snapshot{Gid: "G1", Status: "complete", Total: 100, Completed: 100, Name: "done.bin"})

	loop.tick(context.Background())

	task, err := st.GetTask("t1")
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, task.Status)
	require.Equal(t, "done.bin", task.Name)
	require.Len(t, emitter.batches, 1)
	require.Len(t, emitter.batches[0], 1)
}

func TestTickAbortsEarlyOnEngineFailure(t *testing.T) {
	loop, st, fake, emitter := newHarness(t)
	require.NoError(t, st.UpsertTask(&store.Task{ID: "t1", Gid: "G1", Status: store.StatusActive, SaveDir: "/downloads"}))
	fake.SetRPCError(apperrEngineDown())

	loop.tick(context.Background())

	task, err := st.GetTask("t1")
	require.NoError(t, err)
	require.Equal(t, store.StatusActive, task.Status) // unchanged
	require.Empty(t, emitter.batches)
}

func TestTickIgnoresSnapshotsWithNoMatchingTask(t *testing.T) {
	loop, _, fake, emitter := newHarness(t)
	fake.SeedTask(engine.Snapshot{Gid: "Gunknown", Status: "active", Total: 10, Completed: 1})

	loop.tick(context.Background())
	require.Empty(t, emitter.batches)
}

func TestApplySpeedPlanOnlyCallsOnceForSameLimit(t *testing.T) {
	loop, st, fake, _ := newHarness(t)
	cfg := store.DefaultGlobalSettings()
	cfg.SpeedPlan = `[{"limit":"2M"}]`
	require.NoError(t, st.SaveGlobalSettings(cfg))

	loop.applySpeedPlan(context.Background(), cfg)
	loop.applySpeedPlan(context.Background(), cfg)

	count := 0
	for _, c := range fake.Calls() {
		if c == "ChangeGlobalOption" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestApplyRetryAndMetadataTimeoutTransitionsStuckMagnet(t *testing.T) {
	loop, st, _, _ := newHarness(t)
	old := time.Now().Add(-200 * time.Second).Unix()
	require.NoError(t, st.UpsertTask(&store.Task{
		ID: "m1", Kind: store.KindMagnet, Status: store.StatusMetadata, SaveDir: "/downloads", UpdatedAt: old,
	}))

	cfg := store.DefaultGlobalSettings()
	loop.applyRetryAndMetadataTimeout(context.Background(), cfg)

	task, err := st.GetTask("m1")
	require.NoError(t, err)
	require.Equal(t, store.StatusError, task.Status)
	require.Equal(t, metadataTimeoutErrorCode, task.ErrorCode)
}

func TestApplyRetryResubmitsDueErrorTask(t *testing.T) {
	loop, st, fake, _ := newHarness(t)
	require.NoError(t, st.UpsertTask(&store.Task{
		ID: "e1", Kind: store.KindHTTP, Status: store.StatusError, Source: "https://example.com/a.bin",
		SaveDir: "/downloads", NextRetryAt: time.Now().Add(-time.Second).Unix(),
	}))

	cfg := store.DefaultGlobalSettings()
	loop.applyRetryAndMetadataTimeout(context.Background(), cfg)

	task, err := st.GetTask("e1")
	require.NoError(t, err)
	require.Equal(t, store.StatusQueued, task.Status)
	require.Equal(t, 1, task.RetryAttempts)
	require.NotEmpty(t, task.Gid)
	require.Contains(t, fake.Calls(), "AddURI")
}

func apperrEngineDown() error {
	return errEngineDown
}

var errEngineDown = &fakeErr{"engine down"}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }
