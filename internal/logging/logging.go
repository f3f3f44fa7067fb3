// Package logging provides structured logging for the dash core: one
// process-wide log/slog handler installed at startup, handed out as
// component-tagged child loggers.
//
//	logging.Init(logging.Config{Level: "info", Format: "json", Output: "stderr"})
//
//	log := logging.GetLogger("api")
//	log.Info("retrieve", "tenant_id", tenantID, "top_k", topK)
//	log.Error("segment publish failed", "error", err, "tenant_id", tenantID)
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config selects the process-wide handler Init installs.
type Config struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string
	// Format is the output format: console, json.
	Format string
	// Output is the destination: stderr, stdout, or a file path.
	Output string
}

var (
	mu   sync.RWMutex
	root = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
)

// Init installs the process-wide logger described by cfg. Call once at
// startup, before components ask for their loggers.
func Init(cfg Config) {
	handler := newHandler(cfg, openOutput(cfg.Output))
	mu.Lock()
	root = slog.New(handler)
	mu.Unlock()
}

func openOutput(output string) io.Writer {
	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout
	case "", "stderr":
		return os.Stderr
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return os.Stderr
	}
	return f
}

func newHandler(cfg Config, out io.Writer) slog.Handler {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level: level,
		// Source locations are only worth the noise when debugging.
		AddSource: level == slog.LevelDebug,
	}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.NewJSONHandler(out, opts)
	}
	return slog.NewTextHandler(out, opts)
}

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

func parseLevel(level string) slog.Level {
	if l, ok := levelNames[strings.ToLower(level)]; ok {
		return l
	}
	return slog.LevelInfo
}

// Logger is a component-tagged child of the process-wide logger.
type Logger struct {
	slog *slog.Logger
}

// GetLogger returns a logger whose entries all carry the component name.
func GetLogger(component string) *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return &Logger{slog: root.With("component", component)}
}

// With returns a child logger carrying the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...)}
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }
