// Package enginetest is a test double for internal/engine.Engine,
// standing in for the real subprocess supervisor in every
// service-level test (reconciler, sync loop, task service).
package enginetest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/lc5900/flamingo-downloader/internal/apperr"
	"github.com/lc5900/flamingo-downloader/internal/engine"
)

// Fake implements engine.Engine entirely in memory. Tests seed and
// mutate engine-side tasks with SeedTask/MutateTask, using the engine's
// own status words ("active", "waiting", "complete", ...); TellStatus
// and TellAll report them mapped through engine.MapStatus, as the real
// supervisor does.
type Fake struct {
	mu sync.Mutex

	started     bool
	startErr    error
	endpoint    string
	stderrTail  string
	globalStat  map[string]interface{}
	globalOpts  map[string]string
	version     string
	peers       map[string][]map[string]interface{}
	rpcErr      error // when set, every RPC-shaped call returns this error
	removedGids map[string]bool

	tasks map[string]*engine.Snapshot

	calls        []string // method names, in call order, for assertions
	binPath      string
	restartCount int
}

func New() *Fake {
	return &Fake{
		endpoint:    "http://127.0.0.1:0/jsonrpc",
		globalStat:  map[string]interface{}{"downloadSpeed": "0", "uploadSpeed": "0"},
		globalOpts:  map[string]string{},
		version:     "1.36.0",
		peers:       map[string][]map[string]interface{}{},
		removedGids: map[string]bool{},
		tasks:       map[string]*engine.Snapshot{},
	}
}

var _ engine.Engine = (*Fake)(nil)

func (f *Fake) record(method string) {
	f.calls = append(f.calls, method)
}

// Calls returns every method invoked so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// SetRPCError makes every subsequent RPC-shaped call fail with err,
// simulating an unreachable or crashed engine. Pass nil to clear it.
func (f *Fake) SetRPCError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rpcErr = err
}

// SeedTask installs (or replaces) a task snapshot the engine reports,
// as if it had been discovered via tellActive/tellWaiting/tellStopped.
func (f *Fake) SeedTask(snap engine.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := snap
	f.tasks[snap.Gid] = &s
}

// MutateTask applies fn to the seeded snapshot for gid, if present.
func (f *Fake) MutateTask(gid string, fn func(*engine.Snapshot)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.tasks[gid]; ok {
		fn(s)
	}
}

func (f *Fake) Start(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Start")
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = true
	return f.endpoint, nil
}

func (f *Fake) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Stop")
	f.started = false
	return nil
}

func (f *Fake) EnsureStarted(ctx context.Context) (string, error) {
	f.mu.Lock()
	started := f.started
	f.mu.Unlock()
	if started {
		return f.Endpoint(), nil
	}
	return f.Start(ctx)
}

func (f *Fake) Endpoint() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return ""
	}
	return f.endpoint
}

func (f *Fake) StderrTail() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stderrTail
}

func (f *Fake) checkErr() error {
	if f.rpcErr != nil {
		return f.rpcErr
	}
	return nil
}

func (f *Fake) AddURI(ctx context.Context, uris []string, options map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AddURI")
	if err := f.checkErr(); err != nil {
		return "", err
	}
	gid := uuid.NewString()
	name := ""
	if len(uris) > 0 {
		name = uris[0]
	}
	f.tasks[gid] = &engine.Snapshot{Gid: gid, Status: "waiting", Name: name}
	return gid, nil
}

func (f *Fake) AddTorrent(ctx context.Context, torrentBase64 string, uris []string, options map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AddTorrent")
	if err := f.checkErr(); err != nil {
		return "", err
	}
	gid := uuid.NewString()
	f.tasks[gid] = &engine.Snapshot{Gid: gid, Status: "waiting", HasMetadata: false}
	return gid, nil
}

func (f *Fake) Pause(ctx context.Context, gid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Pause")
	if err := f.checkErr(); err != nil {
		return err
	}
	if s, ok := f.tasks[gid]; ok {
		s.Status = "paused"
	}
	return nil
}

func (f *Fake) Unpause(ctx context.Context, gid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Unpause")
	if err := f.checkErr(); err != nil {
		return err
	}
	if s, ok := f.tasks[gid]; ok {
		s.Status = "active"
	}
	return nil
}

func (f *Fake) PauseAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("PauseAll")
	if err := f.checkErr(); err != nil {
		return err
	}
	for _, s := range f.tasks {
		s.Status = "paused"
	}
	return nil
}

func (f *Fake) UnpauseAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UnpauseAll")
	if err := f.checkErr(); err != nil {
		return err
	}
	for _, s := range f.tasks {
		s.Status = "active"
	}
	return nil
}

func (f *Fake) Remove(ctx context.Context, gid string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Remove")
	if err := f.checkErr(); err != nil {
		return err
	}
	if _, ok := f.tasks[gid]; !ok {
		return apperr.NotFoundf("gid %s not known to fake engine", gid)
	}
	delete(f.tasks, gid)
	f.removedGids[gid] = true
	return nil
}

func (f *Fake) RemoveDownloadResult(ctx context.Context, gid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RemoveDownloadResult")
	if err := f.checkErr(); err != nil {
		return err
	}
	delete(f.tasks, gid)
	return nil
}

func (f *Fake) SaveSession(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SaveSession")
	return f.checkErr()
}

func (f *Fake) TellStatus(ctx context.Context, gid string) (engine.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("TellStatus")
	if err := f.checkErr(); err != nil {
		return engine.Snapshot{}, err
	}
	s, ok := f.tasks[gid]
	if !ok {
		return engine.Snapshot{}, apperr.NotFoundf("gid %s not known to fake engine", gid)
	}
	return reported(*s), nil
}

// reported returns s with its engine status word mapped to a store
// status, the form Snapshot.Status carries.
func reported(s engine.Snapshot) engine.Snapshot {
	s.Status = engine.MapStatus(s.Status, s.HasMetadata, s.Total)
	return s
}

func (f *Fake) TellAll(ctx context.Context) ([]engine.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("TellAll")
	if err := f.checkErr(); err != nil {
		return nil, err
	}
	out := make([]engine.Snapshot, 0, len(f.tasks))
	for _, s := range f.tasks {
		out = append(out, reported(*s))
	}
	return out, nil
}

func (f *Fake) GetPeers(ctx context.Context, gid string) ([]map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetPeers")
	if err := f.checkErr(); err != nil {
		return nil, err
	}
	return f.peers[gid], nil
}

func (f *Fake) ChangePosition(ctx context.Context, gid string, pos int, how string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ChangePosition")
	if err := f.checkErr(); err != nil {
		return 0, err
	}
	return pos, nil
}

func (f *Fake) ChangeOption(ctx context.Context, gid string, opts map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ChangeOption")
	return f.checkErr()
}

func (f *Fake) ChangeGlobalOption(ctx context.Context, opts map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ChangeGlobalOption")
	if err := f.checkErr(); err != nil {
		return err
	}
	for k, v := range opts {
		f.globalOpts[k] = v
	}
	return nil
}

func (f *Fake) GetGlobalStat(ctx context.Context) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetGlobalStat")
	if err := f.checkErr(); err != nil {
		return nil, err
	}
	return f.globalStat, nil
}

func (f *Fake) GetGlobalOption(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetGlobalOption")
	if err := f.checkErr(); err != nil {
		return nil, err
	}
	return f.globalOpts, nil
}

// UpdateBinPath and Restart round out taskservice.EngineLifecycle so
// Fake can stand in for the real supervisor in set_global_settings
// tests that exercise the binary-swap path.
func (f *Fake) UpdateBinPath(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binPath = path
}

func (f *Fake) BinPath() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.binPath
}

func (f *Fake) RestartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restartCount
}

func (f *Fake) Restart(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Restart")
	if err := f.checkErr(); err != nil {
		return "", err
	}
	f.restartCount++
	f.started = true
	return f.endpoint, nil
}

func (f *Fake) GetVersion(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetVersion")
	if err := f.checkErr(); err != nil {
		return "", err
	}
	return f.version, nil
}
