// Package events is the outbound notification surface toward the UI
// process: a single task_update stream carrying changed tasks.
package events

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/lc5900/flamingo-downloader/internal/store"
)

// Emitter is the one-way notification boundary. emit_task_update is
// best-effort: the sync loop never blocks on it and a failure to
// serialize or write is only logged.
type Emitter interface {
	EmitTaskUpdate(tasks []store.Task)
}

// StdoutEmitter writes one JSON line per non-empty batch, in the shape
// `task_update <json-array>`, to an arbitrary writer (normally stdout,
// read by the UI process's event loop).
type StdoutEmitter struct {
	mu  sync.Mutex
	out io.Writer
	log *slog.Logger
}

func NewStdoutEmitter(out io.Writer, log *slog.Logger) *StdoutEmitter {
	return &StdoutEmitter{out: out, log: log}
}

func (e *StdoutEmitter) EmitTaskUpdate(tasks []store.Task) {
	if len(tasks) == 0 {
		return
	}
	payload, err := json.Marshal(tasks)
	if err != nil {
		e.log.Warn("marshal task_update payload failed", "error", err)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := fmt.Fprintf(e.out, "task_update %s\n", payload); err != nil {
		e.log.Warn("emit task_update failed", "error", err)
	}
}

// NullEmitter discards every update; used by tests and headless tooling.
type NullEmitter struct{}

func (NullEmitter) EmitTaskUpdate(tasks []store.Task) {}
