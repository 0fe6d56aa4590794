// Package bridge serves the minimal loopback HTTP server a browser
// extension posts captured downloads to: token-authenticated, origin
// restricted, two routes only.
package bridge

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lc5900/flamingo-downloader/internal/store"
	"github.com/lc5900/flamingo-downloader/internal/taskservice"
)

var allowedHeaders = map[string]bool{
	"accept": true, "accept-language": true, "cookie": true,
	"origin": true, "referer": true, "user-agent": true,
}

// SettingsProvider returns the bridge's current token/origin config,
// re-read on every request so a token rotation takes effect live.
type SettingsProvider func() store.GlobalSettings

type Server struct {
	svc      *taskservice.Service
	settings SettingsProvider
	log      *slog.Logger
	router   *chi.Mux
	merger   *MediaMerger
}

func New(svc *taskservice.Service, settings SettingsProvider, log *slog.Logger) *Server {
	s := &Server{svc: svc, settings: settings, log: log, merger: NewMediaMerger(log)}
	s.router = chi.NewRouter()
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.closeConnectionMiddleware)
	s.router.Get("/health", s.handleHealth)
	s.router.Post("/add", s.handleAdd)
	return s
}

// MountMetrics attaches a /metrics route, kept separate from New so
// callers that don't need prometheus scraping (like unit tests) don't
// have to construct a collector just to build a Server.
func (s *Server) MountMetrics(handler http.Handler) {
	s.router.Handle("/metrics", handler)
}

// ServeHTTP lets Server stand in directly as an http.Handler, for
// callers (and tests) that want to drive the router without going
// through Listen's real TCP bind.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) closeConnectionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
		next.ServeHTTP(w, r)
	})
}

// Listen binds 127.0.0.1:port and serves until the listener is closed
// or ctx-driven shutdown is wired in by the caller.
func (s *Server) Listen(port int) (net.Listener, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() {
		srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Warn("browser bridge server stopped", "error", err)
		}
	}()
	return ln, nil
}

func (s *Server) isExtensionOrigin(origin string) bool {
	return strings.HasPrefix(origin, "chrome-extension://") || strings.HasPrefix(origin, "moz-extension://")
}

func (s *Server) originAllowed(origin string, cfg store.GlobalSettings) bool {
	if origin == "" {
		return true
	}
	if s.isExtensionOrigin(origin) {
		return true
	}
	allowed := parseOriginList(cfg.BridgeAllowedOrigins)
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func parseOriginList(raw string) []string {
	raw = strings.ReplaceAll(raw, "\n", ",")
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (s *Server) authorized(r *http.Request, cfg store.GlobalSettings, tokenOptionalForExtension bool) bool {
	origin := r.Header.Get("Origin")
	if !s.originAllowed(origin, cfg) {
		return false
	}
	if tokenOptionalForExtension && s.isExtensionOrigin(origin) {
		return true
	}
	return r.Header.Get("X-Token") != "" && r.Header.Get("X-Token") == cfg.BridgeToken
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cfg := s.settings()
	if !s.authorized(r, cfg, false) {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"ok": false, "error": "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// AddRequest is the body accepted by POST /add.
type AddRequest struct {
	URL       string   `json:"url"`
	SaveDir   string   `json:"save_dir"`
	Referer   string   `json:"referer"`
	UserAgent string   `json:"user_agent"`
	Headers   []string `json:"headers"`
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	cfg := s.settings()
	if !s.authorized(r, cfg, true) {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"ok": false, "error": "unauthorized"})
		return
	}

	var req AddRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 256*1024)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "bad_request", "detail": err.Error()})
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "bad_request", "detail": "url is required"})
		return
	}
	if req.Referer != "" && !refererSchemeOK(req.Referer) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "bad_request", "detail": "referer must be http(s)"})
		return
	}

	filteredHeaders := filterHeaders(req.Headers)

	if isMergeTarget(req.URL) {
		taskID, err := s.merger.Start(req.URL, req.SaveDir, filteredHeaders)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"ok": false, "error": "ffmpeg_merge_failed", "detail": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "mode": "ffmpeg_merge", "task_id": taskID})
		return
	}

	opts := taskservice.AddOptions{SaveDir: req.SaveDir}
	var task *store.Task
	var err error
	if strings.HasPrefix(req.URL, "magnet:?") {
		task, err = s.svc.AddMagnet(r.Context(), req.URL, opts)
	} else {
		task, err = s.svc.AddURL(r.Context(), req.URL, opts)
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"ok": false, "error": "add_failed", "detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "mode": "aria2", "task_id": task.ID})
}

func refererSchemeOK(referer string) bool {
	return strings.HasPrefix(referer, "http://") || strings.HasPrefix(referer, "https://")
}

func filterHeaders(raw []string) map[string]string {
	out := map[string]string{}
	for _, h := range raw {
		parts := strings.SplitN(h, ":", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(parts[0]))
		if allowedHeaders[name] {
			out[name] = strings.TrimSpace(parts[1])
		}
	}
	return out
}

func isMergeTarget(url string) bool {
	lower := strings.ToLower(url)
	return strings.HasSuffix(lower, ".m3u8") || strings.HasSuffix(lower, ".mpd")
}
