// Package supervisor owns the engine child process: spawning it,
// probing its RPC readiness, falling back to a compatibility flag
// profile, and restarting it on health-guard failure.
package supervisor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lc5900/flamingo-downloader/internal/apperr"
	"github.com/lc5900/flamingo-downloader/internal/engine"
	"github.com/lc5900/flamingo-downloader/internal/engineclient"
)

const (
	rpcProbeInterval = 200 * time.Millisecond
	rpcProbeTimeout  = 12 * time.Second
	healthGuardEvery = 2 * time.Second
	stderrTailChars  = 400
)

// Endpoint identifies one running engine's RPC surface. Port and
// secret may change across restarts; callers must re-read it from the
// Supervisor rather than caching it.
type Endpoint struct {
	URL        string
	Secret     string
	Port       int
	CompatMode bool
}

type Supervisor struct {
	cfg Config
	log *slog.Logger

	lifecycleMu sync.Mutex

	childMu  sync.Mutex
	cmd      *exec.Cmd
	waitDone chan struct{}
	waitErr  error

	epMu     sync.RWMutex
	endpoint *Endpoint
	client   *engineclient.Client
}

func New(cfg Config, log *slog.Logger) *Supervisor {
	return &Supervisor{cfg: cfg, log: log}
}

var _ engine.Engine = (*Supervisor)(nil)

// UpdateBinPath repoints the managed binary path ahead of the next
// start/restart. It does not itself stop or start the child; callers
// that need the new binary live must call Restart afterward.
func (s *Supervisor) UpdateBinPath(path string) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	s.cfg.BinPath = path
}

func (s *Supervisor) Endpoint() string {
	s.epMu.RLock()
	defer s.epMu.RUnlock()
	if s.endpoint == nil {
		return ""
	}
	return s.endpoint.URL
}

func (s *Supervisor) currentClient() (*engineclient.Client, error) {
	s.epMu.RLock()
	defer s.epMu.RUnlock()
	if s.client == nil {
		return nil, apperr.EngineUnavailablef("engine not started")
	}
	return s.client, nil
}

// Start spawns the engine child under the lifecycle lock, shared with
// the updater's binary-swap sequence. If an endpoint is already
// published it is returned unchanged.
func (s *Supervisor) Start(ctx context.Context) (string, error) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.startLocked(ctx)
}

func (s *Supervisor) startLocked(ctx context.Context) (string, error) {
	if ep := s.Endpoint(); ep != "" {
		return ep, nil
	}

	if err := os.MkdirAll(s.cfg.WorkDir, 0755); err != nil {
		return "", apperr.EngineUnavailablef("create work dir: %v", err)
	}
	if err := os.MkdirAll(s.cfg.DefaultDownloadDir, 0755); err != nil {
		return "", apperr.EngineUnavailablef("create download dir: %v", err)
	}
	sessionFile, err := os.OpenFile(s.cfg.SessionFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return "", apperr.EngineUnavailablef("touch session file: %v", err)
	}
	sessionFile.Close()

	port, err := findFreePort()
	if err != nil {
		return "", apperr.EngineUnavailablef("allocate free port: %v", err)
	}
	secret, err := randomSecret()
	if err != nil {
		return "", apperr.EngineUnavailablef("generate secret: %v", err)
	}
	url := fmt.Sprintf("http://127.0.0.1:%d/jsonrpc", port)

	if err := s.spawn(port, secret, false); err != nil {
		return "", apperr.EngineUnavailablef("spawn engine: %v", err)
	}

	client := engineclient.New(url, secret)
	compat := false
	if err := s.waitForRPCReady(ctx, client); err != nil {
		tail := s.readStderrTail()
		if strings.Contains(strings.ToLower(tail), "unrecognized option") {
			s.killChild()
			if err := s.spawn(port, secret, true); err != nil {
				return "", apperr.EngineUnavailablef("respawn in compat mode: %v", err)
			}
			compat = true
			if err2 := s.waitForRPCReady(ctx, client); err2 != nil {
				s.killChild()
				return "", apperr.EngineUnavailablef("start failed after compatibility fallback: %s", s.readStderrTail())
			}
			s.log.Info("startup check passed on attempt 2")
		} else {
			s.killChild()
			return "", apperr.EngineUnavailablef("rpc not ready: %s", tail)
		}
	}

	s.epMu.Lock()
	s.endpoint = &Endpoint{URL: url, Secret: secret, Port: port, CompatMode: compat}
	s.client = client
	s.epMu.Unlock()

	return url, nil
}

// spawn launches the child with the primary or compatibility flag
// profile, redirecting stderr to a rolling log file and discarding stdout.
func (s *Supervisor) spawn(port int, secret string, compat bool) error {
	stderrPath := filepath.Join(s.cfg.WorkDir, "aria2.stderr.log")
	stderrFile, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("open stderr log: %w", err)
	}

	args := []string{
		"--enable-rpc=true",
		"--rpc-listen-all=false",
		fmt.Sprintf("--rpc-listen-port=%d", port),
		fmt.Sprintf("--rpc-secret=%s", secret),
		"--rpc-allow-origin-all=false",
		fmt.Sprintf("--dir=%s", s.cfg.DefaultDownloadDir),
		fmt.Sprintf("--input-file=%s", s.cfg.SessionFile),
		fmt.Sprintf("--save-session=%s", s.cfg.SessionFile),
		"--save-session-interval=30",
		"--check-certificate=true",
		"--continue=true",
		fmt.Sprintf("--max-concurrent-downloads=%d", s.cfg.MaxConcurrentDownloads),
		fmt.Sprintf("--split=%d", s.cfg.Split),
		fmt.Sprintf("--max-connection-per-server=%d", s.cfg.MaxConnectionPerServer),
	}

	if !compat {
		args = append(args,
			"--enable-dht=true",
			"--enable-peer-exchange=true",
			"--bt-enable-lpd=true",
			"--follow-torrent=true",
			"--listen-port=46800-46850",
			"--bt-save-metadata=true",
			"--bt-metadata-only=false",
		)
		if s.cfg.BtTracker != "" {
			args = append(args, fmt.Sprintf("--bt-tracker=%s", s.cfg.BtTracker))
		}
	}

	cmd := exec.Command(s.cfg.BinPath, args...)
	cmd.Stdout = nil
	cmd.Stderr = stderrFile

	if err := cmd.Start(); err != nil {
		stderrFile.Close()
		return fmt.Errorf("spawn %s: %w", s.cfg.BinPath, err)
	}

	s.childMu.Lock()
	s.cmd = cmd
	waitDone := make(chan struct{})
	s.waitDone = waitDone
	go func() {
		err := cmd.Wait()
		stderrFile.Close()
		s.childMu.Lock()
		s.waitErr = err
		s.childMu.Unlock()
		close(waitDone)
	}()
	s.childMu.Unlock()

	return nil
}

// childExited is the Go analogue of try_wait: non-blocking, reports
// whether the child has already exited.
func (s *Supervisor) childExited() bool {
	s.childMu.Lock()
	defer s.childMu.Unlock()
	if s.waitDone == nil {
		return true
	}
	select {
	case <-s.waitDone:
		return true
	default:
		return false
	}
}

func (s *Supervisor) killChild() {
	s.childMu.Lock()
	cmd := s.cmd
	waitDone := s.waitDone
	s.childMu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
	if waitDone != nil {
		<-waitDone
	}
}

func (s *Supervisor) waitForRPCReady(ctx context.Context, client *engineclient.Client) error {
	deadline := time.Now().Add(rpcProbeTimeout)
	for time.Now().Before(deadline) {
		probeCtx, cancel := context.WithTimeout(ctx, rpcProbeInterval)
		_, err := client.GetVersion(probeCtx)
		cancel()
		if err == nil {
			return nil
		}
		if s.childExited() {
			return apperr.EngineUnavailablef("engine exited before rpc became ready")
		}
		time.Sleep(rpcProbeInterval)
	}
	return apperr.EngineUnavailablef("rpc not ready within %s", rpcProbeTimeout)
}

// StderrTail returns up to the last 400 characters of the child's
// stderr log, with newlines collapsed to " | ".
func (s *Supervisor) StderrTail() string { return s.readStderrTail() }

func (s *Supervisor) readStderrTail() string {
	path := filepath.Join(s.cfg.WorkDir, "aria2.stderr.log")
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return ""
	}
	runes := []rune(strings.ReplaceAll(text, "\n", " | "))
	if len(runes) > stderrTailChars {
		runes = runes[len(runes)-stderrTailChars:]
	}
	return string(runes)
}

// Stop best-effort-shuts down the engine via RPC, then hard-kills the
// child and clears the published endpoint.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.stopLocked(ctx)
}

func (s *Supervisor) stopLocked(ctx context.Context) error {
	if client, err := s.currentClient(); err == nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 1200*time.Millisecond)
		_ = client.Shutdown(shutdownCtx)
		cancel()
	}
	s.killChild()

	s.epMu.Lock()
	s.endpoint = nil
	s.client = nil
	s.epMu.Unlock()
	return nil
}

// EnsureStarted returns the cached endpoint or starts the engine.
func (s *Supervisor) EnsureStarted(ctx context.Context) (string, error) {
	if ep := s.Endpoint(); ep != "" {
		return ep, nil
	}
	return s.Start(ctx)
}

// Restart stops then starts the engine under a single lock acquisition
// so no partially-initialized engine is ever observed by a caller.
func (s *Supervisor) Restart(ctx context.Context) (string, error) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	_ = s.stopLocked(ctx)
	return s.startLocked(ctx)
}

// RunHealthGuard polls the child every 2s until ctx is canceled,
// restarting the engine whenever the process has exited or the RPC
// health probe fails.
func (s *Supervisor) RunHealthGuard(ctx context.Context) {
	ticker := time.NewTicker(healthGuardEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.healthCheckOnce(ctx)
		}
	}
}

func (s *Supervisor) healthCheckOnce(ctx context.Context) {
	if s.childExited() {
		s.log.Warn("engine child exited, restarting")
		if _, err := s.Restart(ctx); err != nil {
			s.log.Error("engine restart failed", "error", err)
		}
		return
	}

	client, err := s.currentClient()
	healthy := false
	if err == nil {
		statCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, statErr := client.GetGlobalStat(statCtx)
		cancel()
		healthy = statErr == nil
	}
	if !healthy {
		s.log.Warn("engine health probe failed, restarting")
		if _, err := s.Restart(ctx); err != nil {
			s.log.Error("engine restart failed", "error", err)
		}
	}
}

func findFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func randomSecret() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
