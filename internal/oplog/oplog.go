// Package oplog is the process-wide operation-log buffer: a
// synchronous-mutex-protected pending list that any component appends
// to, drained to the Store by the sync loop's two flush cadences. It
// keeps no capped in-memory copy; drained entries are readable only
// from the Store.
package oplog

import (
	"sync"
	"time"

	"github.com/lc5900/flamingo-downloader/internal/store"
)

type Buffer struct {
	mu      sync.Mutex
	pending []store.OperationLog
}

func New() *Buffer {
	return &Buffer{}
}

// Append records one entry, tagging the failing or notable operation
// by name (e.g. "ensure_aria2_ready", "auto_retry", "setup_fallback").
func (b *Buffer) Append(action, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, store.OperationLog{
		Ts:      time.Now().Unix(),
		Action:  action,
		Message: message,
	})
}

// Drain atomically removes and returns every pending entry.
func (b *Buffer) Drain() []store.OperationLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil
	}
	out := b.pending
	b.pending = nil
	return out
}
