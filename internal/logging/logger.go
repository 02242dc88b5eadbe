package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Component names used as the "component" attribute.
const (
	CompRegistry = "registry"
	CompBridge   = "bridge"
	CompPoller   = "poller"
	CompFeed     = "feed"
	CompHTTP     = "http"
	CompStream   = "stream"
	CompConfig   = "config"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level: "debug", "info", "warn", "error"
	Level string

	// Format is "json" (default) or "text"
	Format string

	// Dir enables a rotated newtab.log in that directory. Empty logs to stderr.
	Dir string

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	globalLogger *slog.Logger
	globalMu     sync.RWMutex
	rotator      *lumberjack.Logger
)

// Init installs the global logger. It can be called again to reconfigure.
func Init(cfg Config) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 3
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 7
	}

	if rotator != nil {
		_ = rotator.Close()
		rotator = nil
	}

	var w io.Writer = os.Stderr
	if cfg.Dir != "" {
		rotator = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, "newtab.log"),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		w = rotator
	}

	globalLogger = slog.New(newHandler(w, cfg))
}

func newHandler(w io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Logger returns the global logger. Before Init it discards everything.
func Logger() *slog.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger == nil {
		return slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return globalLogger
}

// Close flushes and closes the rotated log file, if any.
func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()
	if rotator == nil {
		return nil
	}
	err := rotator.Close()
	rotator = nil
	return err
}

// ForComponent returns a logger tagged with the component name. The handler
// is looked up at log time so package-level loggers created before Init
// still reach the configured output.
func ForComponent(name string) *slog.Logger {
	return slog.New(&dynamicHandler{component: name})
}

type dynamicHandler struct {
	component string
	attrs     []slog.Attr
	groups    []string
}

func (h *dynamicHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return Logger().Handler().Enabled(ctx, level)
}

func (h *dynamicHandler) Handle(ctx context.Context, r slog.Record) error {
	handler := Logger().Handler().WithAttrs([]slog.Attr{slog.String("component", h.component)})
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	for _, g := range h.groups {
		handler = handler.WithGroup(g)
	}
	return handler.Handle(ctx, r)
}

func (h *dynamicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *dynamicHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.groups = append(append([]string(nil), h.groups...), name)
	return &next
}
