// Package taskservice is the public operation surface: every
// user-facing action (add, pause, remove, reorder, settings, ...)
// lives here, composing the store, engine, rules pipeline and safe
// file deletion into one coherent API.
package taskservice

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lc5900/flamingo-downloader/internal/apperr"
	"github.com/lc5900/flamingo-downloader/internal/engine"
	"github.com/lc5900/flamingo-downloader/internal/events"
	"github.com/lc5900/flamingo-downloader/internal/oplog"
	"github.com/lc5900/flamingo-downloader/internal/osshell"
	"github.com/lc5900/flamingo-downloader/internal/rules"
	"github.com/lc5900/flamingo-downloader/internal/safedelete"
	"github.com/lc5900/flamingo-downloader/internal/store"
)

// EngineLifecycle extends the capability-set interface with the one
// operation outside it: swapping the managed binary path ahead of a
// restart, used by set_global_settings.
type EngineLifecycle interface {
	engine.Engine
	UpdateBinPath(path string)
	Restart(ctx context.Context) (string, error)
}

type Service struct {
	store    *store.Store
	engine   EngineLifecycle
	opLog    *oplog.Buffer
	emitter  events.Emitter
	log      *slog.Logger
	http     *http.Client
	tokenGen func() (string, error)
}

func New(st *store.Store, eng EngineLifecycle, ol *oplog.Buffer, emitter events.Emitter, log *slog.Logger) *Service {
	return &Service{
		store:    st,
		engine:   eng,
		opLog:    ol,
		emitter:  emitter,
		log:      log,
		http:     &http.Client{Timeout: 2 * time.Second},
		tokenGen: generateSecureToken,
	}
}

func (s *Service) logOp(action, message string) {
	s.opLog.Append(action, message)
}

func (s *Service) currentSettings() (store.GlobalSettings, error) {
	return s.store.LoadGlobalSettings()
}

func (s *Service) ruleMatchInput(kind, source string, mimeType string) rules.MatchInput {
	return rules.MatchInput{Source: source, Kind: kind, MimeType: mimeType}
}

func (s *Service) resolveSaveDirAndCategory(cfg store.GlobalSettings, kind, source, mimeType string) (string, string) {
	in := s.ruleMatchInput(kind, source, mimeType)
	dirRules := rules.ParseDownloadDirRules(cfg.DownloadDirRules)
	catRules := rules.ParseCategoryRules(cfg.CategoryRules)
	defaultDir := cfg.DownloadDir
	saveDir := rules.ResolveSaveDir(dirRules, in, defaultDir)
	category := rules.ResolveCategory(catRules, in)
	return saveDir, category
}

// probeContentType issues a short HEAD request, used only to feed the
// type matcher; failures are silently ignored.
func (s *Service) probeContentType(url string) string {
	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := s.http.Do(req.WithContext(ctx))
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	return resp.Header.Get("Content-Type")
}

// AddOptions carries caller-supplied overrides for add_url/add_magnet.
type AddOptions struct {
	SaveDir  string
	Category string
}

// AddURL submits an http(s)/ftp download.
func (s *Service) AddURL(ctx context.Context, rawURL string, opts AddOptions) (*store.Task, error) {
	scheme := strings.ToLower(urlScheme(rawURL))
	if scheme != "http" && scheme != "https" && scheme != "ftp" {
		return nil, apperr.InvalidInputf("unsupported scheme in %q", rawURL)
	}
	if _, err := s.engine.EnsureStarted(ctx); err != nil {
		return nil, err
	}

	cfg, err := s.currentSettings()
	if err != nil {
		return nil, err
	}
	mimeType := ""
	if scheme == "http" || scheme == "https" {
		mimeType = s.probeContentType(rawURL)
	}
	saveDir, category := s.resolveSaveDirAndCategory(cfg, store.KindHTTP, rawURL, mimeType)
	if opts.SaveDir != "" {
		saveDir = opts.SaveDir
	}
	if opts.Category != "" {
		category = opts.Category
	}

	gid, err := s.engine.AddURI(ctx, []string{rawURL}, map[string]string{"dir": saveDir})
	if err != nil {
		return nil, err
	}

	task := &store.Task{
		ID: uuid.NewString(), Gid: gid, Kind: store.KindHTTP, Source: rawURL,
		Status: store.StatusQueued, SaveDir: saveDir, Category: category,
	}
	if err := s.store.UpsertTask(task); err != nil {
		return nil, err
	}
	return task, nil
}

// AddMagnet submits a magnet link; it starts in Metadata status until
// the engine resolves its torrent info.
func (s *Service) AddMagnet(ctx context.Context, magnet string, opts AddOptions) (*store.Task, error) {
	if !strings.HasPrefix(magnet, "magnet:?") {
		return nil, apperr.InvalidInputf("not a magnet link")
	}
	if _, err := s.engine.EnsureStarted(ctx); err != nil {
		return nil, err
	}
	cfg, err := s.currentSettings()
	if err != nil {
		return nil, err
	}
	saveDir, category := s.resolveSaveDirAndCategory(cfg, store.KindMagnet, magnet, "")
	if opts.SaveDir != "" {
		saveDir = opts.SaveDir
	}
	if opts.Category != "" {
		category = opts.Category
	}

	gid, err := s.engine.AddURI(ctx, []string{magnet}, map[string]string{"dir": saveDir})
	if err != nil {
		return nil, err
	}

	task := &store.Task{
		ID: uuid.NewString(), Gid: gid, Kind: store.KindMagnet, Source: magnet,
		Status: store.StatusMetadata, SaveDir: saveDir, Category: category,
	}
	if err := s.store.UpsertTask(task); err != nil {
		return nil, err
	}
	return task, nil
}

// AddTorrentFromFile reads a .torrent file from disk and submits it.
func (s *Service) AddTorrentFromFile(ctx context.Context, path string, opts AddOptions) (*store.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.InvalidInputf("read torrent file: %v", err)
	}
	return s.AddTorrentFromBase64(ctx, base64.StdEncoding.EncodeToString(data), opts)
}

// AddTorrentFromBase64 submits an already-encoded .torrent payload.
func (s *Service) AddTorrentFromBase64(ctx context.Context, torrentB64 string, opts AddOptions) (*store.Task, error) {
	if _, err := s.engine.EnsureStarted(ctx); err != nil {
		return nil, err
	}
	cfg, err := s.currentSettings()
	if err != nil {
		return nil, err
	}
	saveDir := cfg.DownloadDir
	if opts.SaveDir != "" {
		saveDir = opts.SaveDir
	}

	gid, err := s.engine.AddTorrent(ctx, torrentB64, nil, map[string]string{"dir": saveDir})
	if err != nil {
		return nil, err
	}

	task := &store.Task{
		ID: uuid.NewString(), Gid: gid, Kind: store.KindTorrent, Source: "torrent:" + gid,
		Status: store.StatusMetadata, SaveDir: saveDir, Category: opts.Category,
	}
	if err := s.store.UpsertTask(task); err != nil {
		return nil, err
	}
	return task, nil
}

func urlScheme(raw string) string {
	idx := strings.Index(raw, "://")
	if idx < 0 {
		return ""
	}
	return raw[:idx]
}

func (s *Service) Pause(ctx context.Context, id string) error {
	task, err := s.store.GetTask(id)
	if err != nil {
		return err
	}
	if task.Gid == "" {
		return apperr.InvalidInputf("task %s has no active engine handle", id)
	}
	return s.engine.Pause(ctx, task.Gid)
}

func (s *Service) Resume(ctx context.Context, id string) error {
	task, err := s.store.GetTask(id)
	if err != nil {
		return err
	}
	if task.Gid == "" {
		return apperr.InvalidInputf("task %s has no active engine handle", id)
	}
	return s.engine.Unpause(ctx, task.Gid)
}

func (s *Service) PauseAll(ctx context.Context) error  { return s.engine.PauseAll(ctx) }
func (s *Service) ResumeAll(ctx context.Context) error { return s.engine.UnpauseAll(ctx) }

// RemoveTask tombstones the gid before ever touching the engine, so a
// timed-out RPC can never leave a resurrectable task behind.
func (s *Service) RemoveTask(ctx context.Context, id string, deleteFiles bool) error {
	task, err := s.store.GetTask(id)
	if err != nil {
		return err
	}

	if task.Gid != "" {
		if err := s.store.MarkDeletedGid(task.Gid); err != nil {
			return err
		}
	}

	if task.Gid != "" {
		removeCtx, cancel := context.WithTimeout(ctx, 1200*time.Millisecond)
		_ = s.engine.Remove(removeCtx, task.Gid, true)
		cancel()

		resultCtx, cancel2 := context.WithTimeout(ctx, 1200*time.Millisecond)
		_ = s.engine.RemoveDownloadResult(resultCtx, task.Gid)
		cancel2()

		sessionCtx, cancel3 := context.WithTimeout(ctx, 1200*time.Millisecond)
		_ = s.engine.SaveSession(sessionCtx)
		cancel3()
	}

	if deleteFiles {
		if err := s.deleteTaskFiles(*task); err != nil {
			return err
		}
	}

	return s.store.RemoveTask(id)
}

func (s *Service) deleteTaskFiles(task store.Task) error {
	cfg, err := s.currentSettings()
	if err != nil {
		return err
	}
	root := cfg.DownloadDir
	if root == "" {
		return nil
	}

	files, err := s.store.ListTaskFiles(task.ID)
	if err != nil {
		return err
	}

	var rawPaths []string
	if len(files) > 0 {
		for _, f := range files {
			rawPaths = append(rawPaths, f.Path)
		}
	} else if task.Name != "" {
		rawPaths = append(rawPaths, task.SaveDir+string(os.PathSeparator)+task.Name)
	} else {
		return nil
	}

	candidates := safedelete.ResolveCandidates(task.SaveDir, rawPaths)
	if err := safedelete.CheckContainment(root, candidates); err != nil {
		return err
	}
	return safedelete.DeleteAll(root, candidates)
}

// ReorderAction is one of the move_task_position directives.
type ReorderAction string

const (
	ReorderTop    ReorderAction = "top"
	ReorderUp     ReorderAction = "up"
	ReorderDown   ReorderAction = "down"
	ReorderBottom ReorderAction = "bottom"
)

func (s *Service) MoveTaskPosition(ctx context.Context, id string, action ReorderAction) error {
	task, err := s.store.GetTask(id)
	if err != nil {
		return err
	}
	if task.Status == store.StatusCompleted {
		return apperr.InvalidInputf("cannot reorder a completed task")
	}
	if task.Gid == "" {
		return apperr.InvalidInputf("task %s has no active engine handle", id)
	}

	var pos int
	var how string
	switch action {
	case ReorderTop:
		pos, how = 0, "POS_SET"
	case ReorderUp:
		pos, how = -1, "POS_CUR"
	case ReorderDown:
		pos, how = 1, "POS_CUR"
	case ReorderBottom:
		pos, how = 0, "POS_END"
	default:
		return apperr.InvalidInputf("unknown reorder action %q", action)
	}
	_, err = s.engine.ChangePosition(ctx, task.Gid, pos, how)
	return err
}

// StopSeeding force-removes a completed torrent/magnet from the
// engine's seeding set without touching the store's task row.
func (s *Service) StopSeeding(ctx context.Context, id string) error {
	task, err := s.store.GetTask(id)
	if err != nil {
		return err
	}
	if task.Kind != store.KindTorrent && task.Kind != store.KindMagnet {
		return apperr.InvalidInputf("stop_seeding only applies to torrent/magnet tasks")
	}
	if task.Gid == "" {
		return nil
	}
	return s.engine.Remove(ctx, task.Gid, true)
}

// GetTaskDetail refreshes a task's live status from the engine (when
// it has a gid), replacing its file list and filling in a missing name.
func (s *Service) GetTaskDetail(ctx context.Context, id string) (*store.Task, error) {
	task, err := s.store.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task.Gid == "" {
		return task, nil
	}

	snap, err := s.engine.TellStatus(ctx, task.Gid)
	if err != nil {
		return task, nil // stale row is better than failing the whole request
	}

	update := store.TaskSnapshotUpdate{
		ID: task.ID, Status: snap.Status, Total: snap.Total, Completed: snap.Completed,
		DownloadSpeed: snap.DownloadSpeed, UploadSpeed: snap.UploadSpeed, Connections: int(snap.Connections),
		ErrorCode: snap.ErrorCode, ErrorMessage: snap.ErrorMessage,
	}
	if task.Name == "" {
		update.Name = snap.Name
	}
	if err := s.store.UpdateFromSnapshots([]store.TaskSnapshotUpdate{update}); err != nil {
		return nil, err
	}
	if len(snap.Files) > 0 {
		storeFiles := make([]store.TaskFile, 0, len(snap.Files))
		for _, f := range snap.Files {
			storeFiles = append(storeFiles, store.TaskFile{Path: f.Path, Length: f.Length, CompletedLength: f.CompletedLength, Selected: f.Selected})
		}
		if err := s.store.ReplaceTaskFiles(task.ID, storeFiles); err != nil {
			return nil, err
		}
	}
	return s.store.GetTask(task.ID)
}

// RuntimeStatusSummary is the peer/tracker digest of get_task_runtime_status.
type RuntimeStatusSummary struct {
	PeersCount    int      `json:"peers_count"`
	SeedersCount  int      `json:"seeders_count"`
	TrackersCount int      `json:"trackers_count"`
	Trackers      []string `json:"trackers"`
}

type RuntimeStatus struct {
	Raw     map[string]interface{}  `json:"raw"`
	Summary RuntimeStatusSummary    `json:"summary"`
	Peers   []map[string]interface{} `json:"peers"`
}

func (s *Service) GetTaskRuntimeStatus(ctx context.Context, id string) (*RuntimeStatus, error) {
	task, err := s.store.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task.Gid == "" {
		return &RuntimeStatus{}, nil
	}
	peers, err := s.engine.GetPeers(ctx, task.Gid)
	if err != nil {
		peers = nil
	}
	seeders := 0
	for _, p := range peers {
		if v, ok := p["seeder"]; ok {
			if b, ok := v.(bool); ok && b {
				seeders++
			} else if str, ok := v.(string); ok && str == "true" {
				seeders++
			}
		}
	}
	return &RuntimeStatus{
		Raw: map[string]interface{}{"gid": task.Gid},
		Summary: RuntimeStatusSummary{
			PeersCount:   len(peers),
			SeedersCount: seeders,
		},
		Peers: peers,
	}, nil
}

func (s *Service) SetTaskFileSelection(ctx context.Context, id string, indexes []int) error {
	task, err := s.store.GetTask(id)
	if err != nil {
		return err
	}
	if task.Gid == "" {
		return apperr.InvalidInputf("task %s has no active engine handle", id)
	}
	csv := indexesToCSV(indexes)
	return s.engine.ChangeOption(ctx, task.Gid, map[string]string{"select-file": csv})
}

func indexesToCSV(indexes []int) string {
	parts := make([]string, 0, len(indexes))
	for _, i := range indexes {
		parts = append(parts, strconv.Itoa(i+1)) // engine's select-file is 1-based
	}
	return strings.Join(parts, ",")
}

var runtimeOptionWhitelist = map[string]bool{
	"max-download-limit":       true,
	"max-upload-limit":         true,
	"max-connection-per-server": true,
	"split":                    true,
	"seed-ratio":               true,
	"seed-time":                true,
}

func (s *Service) SetTaskRuntimeOptions(ctx context.Context, id string, opts map[string]string) error {
	task, err := s.store.GetTask(id)
	if err != nil {
		return err
	}
	if task.Gid == "" {
		return apperr.InvalidInputf("task %s has no active engine handle", id)
	}
	filtered := map[string]string{}
	for k, v := range opts {
		if runtimeOptionWhitelist[k] {
			filtered[k] = v
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return s.engine.ChangeOption(ctx, task.Gid, filtered)
}

func (s *Service) SetTaskCategory(id, category string) error {
	return s.store.SetTaskCategory(id, category)
}

func (s *Service) OpenTaskFile(id string) error {
	task, err := s.store.GetTask(id)
	if err != nil {
		return err
	}
	path, err := s.primaryPath(*task)
	if err != nil {
		return err
	}
	return osshell.OpenFile(path)
}

func (s *Service) OpenTaskDir(id string) error {
	task, err := s.store.GetTask(id)
	if err != nil {
		return err
	}
	path, err := s.primaryPath(*task)
	if err != nil {
		return err
	}
	return osshell.OpenFolder(path)
}

func (s *Service) primaryPath(task store.Task) (string, error) {
	files, err := s.store.ListTaskFiles(task.ID)
	if err != nil {
		return "", err
	}
	for _, f := range files {
		if f.Selected {
			return f.Path, nil
		}
	}
	if len(files) > 0 {
		return files[0].Path, nil
	}
	if task.Name == "" {
		return "", apperr.InvalidInputf("task %s has no known file path", task.ID)
	}
	return task.SaveDir + string(os.PathSeparator) + task.Name, nil
}

// RotateBrowserBridgeToken generates a fresh token, persists it, and
// returns it so the caller can hand it to the extension.
func (s *Service) RotateBrowserBridgeToken() (string, error) {
	token, err := s.tokenGen()
	if err != nil {
		return "", apperr.StorageErrorf(err, "generate bridge token")
	}
	if err := s.store.SetString(store.KeyBridgeToken, token); err != nil {
		return "", err
	}
	return token, nil
}

// ConsumeStartupNotice returns the pending startup notice text (if
// any) and marks it seen so it is not shown again.
func (s *Service) ConsumeStartupNotice() (string, error) {
	notice, err := s.store.GetString(store.KeyStartupNotice)
	if err != nil {
		return "", err
	}
	if notice == "" {
		return "", nil
	}
	seen, err := s.store.GetString(store.KeyStartupNoticeSeen)
	if err != nil {
		return "", err
	}
	if seen == "true" {
		return "", nil
	}
	if err := s.store.SetString(store.KeyStartupNoticeSeen, "true"); err != nil {
		return "", err
	}
	return notice, nil
}
