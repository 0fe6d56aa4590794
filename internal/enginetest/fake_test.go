package enginetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lc5900/flamingo-downloader/internal/apperr"
	"github.com/lc5900/flamingo-downloader/internal/engine"
)

func TestFakeLifecycle(t *testing.T) {
	f := New()
	ctx := context.Background()

	require.Empty(t, f.Endpoint())
	ep, err := f.EnsureStarted(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, ep)
	require.Equal(t, ep, f.Endpoint())

	require.NoError(t, f.Stop(ctx))
	require.Empty(t, f.Endpoint())
}

func TestFakeAddAndTellStatus(t *testing.T) {
	f := New()
	ctx := context.Background()

	gid, err := f.AddURI(ctx, []string{"https://example.com/a.bin"}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, gid)

	snap, err := f.TellStatus(ctx, gid)
	require.NoError(t, err)
	require.Equal(t, gid, snap.Gid)

	all, err := f.TellAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestFakeTellStatusUnknownGidIsNotFound(t *testing.T) {
	f := New()
	_, err := f.TellStatus(context.Background(), "nope")
	require.Error(t, err)
	require.Equal(t, apperr.TaskNotFound, apperr.Of(err))
}

func TestFakeSeedAndMutateTask(t *testing.T) {
	f := New()
	f.SeedTask(engine.Snapshot{Gid: "g1", Status: "active", Total: 100, Completed: 10})
	f.MutateTask("g1", func(s *engine.Snapshot) { s.Completed = 50 })

	snap, err := f.TellStatus(context.Background(), "g1")
	require.NoError(t, err)
	require.EqualValues(t, 50, snap.Completed)
}

func TestFakeRPCErrorInjection(t *testing.T) {
	f := New()
	f.SetRPCError(apperr.EngineUnavailablef("engine down"))
	_, err := f.GetVersion(context.Background())
	require.Error(t, err)
	require.Equal(t, apperr.EngineUnavailable, apperr.Of(err))
}

func TestFakeRemoveDeletesFromTellAll(t *testing.T) {
	f := New()
	ctx := context.Background()
	gid, err := f.AddURI(ctx, []string{"https://example.com/a.bin"}, nil)
	require.NoError(t, err)

	require.NoError(t, f.Remove(ctx, gid, true))
	all, err := f.TellAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 0)
}
