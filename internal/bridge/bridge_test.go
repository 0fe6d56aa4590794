package bridge

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lc5900/flamingo-downloader/internal/enginetest"
	"github.com/lc5900/flamingo-downloader/internal/events"
	"github.com/lc5900/flamingo-downloader/internal/oplog"
	"github.com/lc5900/flamingo-downloader/internal/store"
	"github.com/lc5900/flamingo-downloader/internal/taskservice"
)

func newTestServer(t *testing.T, cfg store.GlobalSettings) *Server {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	cfg.DownloadDir = t.TempDir()
	require.NoError(t, st.SaveGlobalSettings(cfg))

	fake := enginetest.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := taskservice.New(st, fake, oplog.New(), events.NullEmitter{}, log)
	return New(svc, func() store.GlobalSettings {
		loaded, _ := st.LoadGlobalSettings()
		return loaded
	}, log)
}

func TestHealthRequiresToken(t *testing.T) {
	cfg := store.DefaultGlobalSettings()
	cfg.BridgeToken = "secret"
	s := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/health", nil)
	req2.Header.Set("X-Token", "secret")
	w2 := httptest.NewRecorder()
	s.router.ServeHTTP(w2, req2)
	require.Equal(t, http.StatusOK, w2.Code)
}

func TestAddRejectsUnauthorizedOrigin(t *testing.T) {
	cfg := store.DefaultGlobalSettings()
	cfg.BridgeToken = "secret"
	cfg.BridgeAllowedOrigins = "https://allowed.example.com"
	s := newTestServer(t, cfg)

	body, _ := json.Marshal(AddRequest{URL: "https://example.com/a.bin"})
	req := httptest.NewRequest(http.MethodPost, "/add", bytes.NewReader(body))
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("X-Token", "secret")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAddAcceptsExtensionOriginWithoutToken(t *testing.T) {
	cfg := store.DefaultGlobalSettings()
	cfg.BridgeToken = "secret"
	s := newTestServer(t, cfg)

	body, _ := json.Marshal(AddRequest{URL: "https://example.com/a.bin"})
	req := httptest.NewRequest(http.MethodPost, "/add", bytes.NewReader(body))
	req.Header.Set("Origin", "chrome-extension://abcdefg")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "aria2", resp["mode"])
}

func TestAddRejectsMissingURL(t *testing.T) {
	cfg := store.DefaultGlobalSettings()
	cfg.BridgeToken = "secret"
	s := newTestServer(t, cfg)

	body, _ := json.Marshal(AddRequest{})
	req := httptest.NewRequest(http.MethodPost, "/add", bytes.NewReader(body))
	req.Header.Set("X-Token", "secret")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddRoutesMagnetLinksAsMagnetTask(t *testing.T) {
	cfg := store.DefaultGlobalSettings()
	cfg.BridgeToken = "secret"
	s := newTestServer(t, cfg)

	body, _ := json.Marshal(AddRequest{URL: "magnet:?xt=urn:btih:abc"})
	req := httptest.NewRequest(http.MethodPost, "/add", bytes.NewReader(body))
	req.Header.Set("X-Token", "secret")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestFilterHeadersDropsNonWhitelisted(t *testing.T) {
	out := filterHeaders([]string{"Cookie: a=b", "X-Evil: 1", "User-Agent: test"})
	require.Equal(t, "a=b", out["cookie"])
	require.Equal(t, "test", out["user-agent"])
	_, present := out["x-evil"]
	require.False(t, present)
}

func TestIsMergeTarget(t *testing.T) {
	require.True(t, isMergeTarget("https://example.com/stream.m3u8"))
	require.True(t, isMergeTarget("https://example.com/manifest.mpd"))
	require.False(t, isMergeTarget("https://example.com/video.mp4"))
}
