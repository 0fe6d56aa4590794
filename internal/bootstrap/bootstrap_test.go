package bootstrap

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWiresEveryComponentWithoutStartingTheEngine(t *testing.T) {
	dir := t.TempDir()
	app, err := New(Options{DataDir: dir})
	require.NoError(t, err)
	defer app.closeLog()
	defer app.Store.Close()

	require.NotNil(t, app.Log)
	require.NotNil(t, app.Store)
	require.NotNil(t, app.Supervisor)
	require.NotNil(t, app.Reconciler)
	require.NotNil(t, app.SyncLoop)
	require.NotNil(t, app.TaskService)
	require.NotNil(t, app.Bridge)
	require.NotNil(t, app.Metrics)

	settings, err := app.Store.LoadGlobalSettings()
	require.NoError(t, err)
	require.NotEmpty(t, settings.DownloadDir)
}

func TestNewIsIdempotentAcrossRestartsOfTheSameDataDir(t *testing.T) {
	dir := t.TempDir()
	app1, err := New(Options{DataDir: dir})
	require.NoError(t, err)
	require.NoError(t, app1.Store.SetString("probe_key", "probe_value"))
	require.NoError(t, app1.closeLog())
	require.NoError(t, app1.Store.Close())

	app2, err := New(Options{DataDir: dir})
	require.NoError(t, err)
	defer app2.closeLog()
	defer app2.Store.Close()

	val, err := app2.Store.GetString("probe_key")
	require.NoError(t, err)
	require.Equal(t, "probe_value", val)
}

func TestMetricsHandlerIsReachableThroughTheBridgeRouter(t *testing.T) {
	dir := t.TempDir()
	app, err := New(Options{DataDir: dir})
	require.NoError(t, err)
	defer app.closeLog()
	defer app.Store.Close()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	app.Bridge.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}
