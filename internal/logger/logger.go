// Package logger builds the process-wide structured logger: a JSON
// file sink plus a colorized console sink, fanned out through a single
// slog.Handler.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"
)

var (
	debugStyle = color.New(color.FgWhite)
	infoStyle  = color.New(color.FgGreen)
	warnStyle  = color.New(color.FgYellow)
	errStyle   = color.New(color.FgRed, color.Bold)
)

// ConsoleHandler renders log records as colorized single lines.
type ConsoleHandler struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsoleHandler(out io.Writer) *ConsoleHandler {
	return &ConsoleHandler{out: out}
}

func (h *ConsoleHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *ConsoleHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	style := debugStyle
	switch r.Level {
	case slog.LevelInfo:
		style = infoStyle
	case slog.LevelWarn:
		style = warnStyle
	case slog.LevelError:
		style = errStyle
	}

	timeStr := r.Time.Format(time.TimeOnly)
	levelTag := style.Sprint(r.Level.String()[:4])

	var attrs string
	r.Attrs(func(a slog.Attr) bool {
		attrs += fmt.Sprintf(" %s=%v", a.Key, a.Value.Any())
		return true
	})

	fmt.Fprintf(h.out, "%s [%s] %s%s\n", levelTag, timeStr, r.Message, attrs)
	return nil
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *ConsoleHandler) WithGroup(name string) slog.Handler      { return h }

// FanoutHandler dispatches every record to each of its handlers,
// tolerating failures in any individual sink.
type FanoutHandler struct {
	handlers []slog.Handler
}

func NewFanoutHandler(handlers ...slog.Handler) *FanoutHandler {
	return &FanoutHandler{handlers: handlers}
}

func (h *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *FanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		_ = handler.Handle(ctx, r.Clone())
	}
	return nil
}

func (h *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		newHandlers[i] = handler.WithAttrs(attrs)
	}
	return &FanoutHandler{handlers: newHandlers}
}

func (h *FanoutHandler) WithGroup(name string) slog.Handler {
	newHandlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		newHandlers[i] = handler.WithGroup(name)
	}
	return &FanoutHandler{handlers: newHandlers}
}

// New creates the process-wide logger, writing JSON records to
// <dataDir>/runtime/app.json.log and colorized lines to consoleOutput.
func New(dataDir string, consoleOutput io.Writer) (*slog.Logger, func() error, error) {
	logDir := filepath.Join(dataDir, "runtime")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, err
	}

	f, err := os.OpenFile(filepath.Join(logDir, "app.json.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}

	jsonHandler := slog.NewJSONHandler(f, nil)
	consoleHandler := NewConsoleHandler(consoleOutput)

	handler := NewFanoutHandler(jsonHandler, consoleHandler)
	return slog.New(handler), f.Close, nil
}
