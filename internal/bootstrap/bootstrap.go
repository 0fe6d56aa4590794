// Package bootstrap wires the store, engine supervisor, reconciler,
// sync loop, task service, browser bridge and metrics into one running
// daemon, the way the teacher's core.WaitForSignals once wired a
// single in-process engine into the Wails app lifecycle.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lc5900/flamingo-downloader/internal/bridge"
	"github.com/lc5900/flamingo-downloader/internal/config"
	"github.com/lc5900/flamingo-downloader/internal/engineclient"
	"github.com/lc5900/flamingo-downloader/internal/events"
	"github.com/lc5900/flamingo-downloader/internal/logger"
	"github.com/lc5900/flamingo-downloader/internal/metrics"
	"github.com/lc5900/flamingo-downloader/internal/oplog"
	"github.com/lc5900/flamingo-downloader/internal/reconciler"
	"github.com/lc5900/flamingo-downloader/internal/store"
	"github.com/lc5900/flamingo-downloader/internal/supervisor"
	"github.com/lc5900/flamingo-downloader/internal/syncloop"
	"github.com/lc5900/flamingo-downloader/internal/taskservice"
)

const shutdownTimeout = 5 * time.Second

// Options configures one App instance. DataDir holds the database,
// runtime files, and log output; BinPathOverride forces a specific
// engine binary instead of the one resolved under DataDir.
type Options struct {
	DataDir         string
	BinPathOverride string
	BridgePortFlag  int
}

// App is every long-lived component of one daemon run.
type App struct {
	Log         *slog.Logger
	closeLog    func() error
	Store       *store.Store
	Supervisor  *supervisor.Supervisor
	Reconciler  *reconciler.Reconciler
	SyncLoop    *syncloop.Loop
	TaskService *taskservice.Service
	Bridge      *bridge.Server
	Metrics     *metrics.Collectors
	Emitter     events.Emitter
	Config      *config.Store

	bridgePortOverride int
}

// New resolves the data directory, seeds first-run defaults, and
// constructs every component without starting any of them.
func New(opts Options) (*App, error) {
	dataDir, err := resolveDataDir(opts.DataDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	log, closeLog, err := logger.New(dataDir, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	st, err := store.Open(dataDir)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("open store: %w", err)
	}

	cfgStore := config.New(st)

	defaultDownloadDir := filepath.Join(dataDir, "downloads")
	if err := config.SeedDefaultsIfAbsent(st, defaultDownloadDir); err != nil {
		log.Warn("seed default settings failed", "error", err)
	}

	settings, err := st.LoadGlobalSettings()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	engCfg := supervisor.ConfigWithDefaults(dataDir, settings.DownloadDir)
	engCfg.MaxConcurrentDownloads = settings.MaxConcurrentDownloads
	engCfg.Split = settings.Split
	engCfg.MaxConnectionPerServer = settings.MaxConnectionPerServer
	engCfg.BtTracker = settings.BtTrackers
	engCfg.EnableUPnP = settings.EnableUPnP
	if opts.BinPathOverride != "" {
		engCfg.BinPath = opts.BinPathOverride
	}
	sup := supervisor.New(engCfg, log)

	emitter := events.NewStdoutEmitter(os.Stdout, log)
	opLog := oplog.New()

	rec := reconciler.New(st, sup, log, func() string {
		loaded, _ := st.LoadGlobalSettings()
		return loaded.DownloadDir
	})

	settingsProvider := func() store.GlobalSettings {
		loaded, _ := st.LoadGlobalSettings()
		return loaded
	}

	loop := syncloop.New(st, sup, emitter, opLog, log, settingsProvider)

	svc := taskservice.New(st, sup, opLog, emitter, log)

	br := bridge.New(svc, settingsProvider, log)

	mc := metrics.New()
	br.MountMetrics(mc.Handler())

	return &App{
		Log:         log,
		closeLog:    closeLog,
		Store:       st,
		Supervisor:  sup,
		Reconciler:  rec,
		SyncLoop:    loop,
		TaskService: svc,
		Bridge:      br,
		Metrics:     mc,
		Emitter:     emitter,
		Config:      cfgStore,

		bridgePortOverride: opts.BridgePortFlag,
	}, nil
}

// Run starts the engine, reconciles once, then runs the sync loop and
// the browser bridge until ctx is canceled or an OS signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	endpoint, err := a.Supervisor.Start(ctx)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	a.Log.Info("engine started", "endpoint", endpoint)

	if _, err := a.Reconciler.Reconcile(ctx); err != nil {
		a.Log.Warn("initial reconcile failed", "error", err)
	}

	settings, _ := a.Store.LoadGlobalSettings()
	bridgePort := settings.BridgePort
	if a.bridgePortOverride != 0 {
		bridgePort = a.bridgePortOverride
	}
	ln, err := a.Bridge.Listen(bridgePort)
	if err != nil {
		a.Log.Warn("browser bridge failed to bind", "error", err, "port", bridgePort)
	} else {
		defer ln.Close()
		a.Log.Info("browser bridge listening", "port", bridgePort)
	}

	go a.SyncLoop.Run(ctx)

	<-ctx.Done()
	a.Log.Info("shutting down")
	return a.Shutdown()
}

// Shutdown stops the engine and releases every held resource. Safe to
// call once Run's context has already been canceled.
func (a *App) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Supervisor.Stop(shutdownCtx); err != nil {
		a.Log.Warn("engine stop failed", "error", err)
	}
	if err := a.Store.Close(); err != nil {
		a.Log.Warn("store close failed", "error", err)
	}
	if a.closeLog != nil {
		return a.closeLog()
	}
	return nil
}

func resolveDataDir(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if env := os.Getenv("FLAMINGO_DATA_DIR"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".flamingo-downloader"), nil
}

// NewEngineClient is exposed for callers that need a raw RPC client
// without standing up the full daemon.
func NewEngineClient(endpoint, secret string) *engineclient.Client {
	return engineclient.New(endpoint, secret)
}
