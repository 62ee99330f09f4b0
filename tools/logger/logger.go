package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// Level represents logging severity
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name from configuration to a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "", "info", "INFO":
		return LevelInfo, nil
	case "warn", "WARN", "warning":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func (l Level) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger provides structured logging for the studio. Messages are printf
// formatted; key/value context is attached with With.
type Logger struct {
	root   *slog.Logger
	sl     *slog.Logger
	prefix string
}

// New creates a new logger writing slog text records to out
func New(out io.Writer, minLevel Level, prefix string) *Logger {
	if out == nil {
		out = os.Stdout
	}
	h := slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: minLevel.slog(),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.String(slog.TimeKey, a.Value.Time().Format("15:04:05.000"))
			}
			return a
		},
	})
	return wrap(slog.New(h), prefix)
}

// FromSlog wraps an existing slog logger.
func FromSlog(sl *slog.Logger) *Logger {
	return wrap(sl, "")
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return wrap(slog.New(slog.DiscardHandler), "")
}

// Default returns a default logger to stdout
func Default() *Logger {
	return New(os.Stdout, LevelInfo, "")
}

func wrap(sl *slog.Logger, prefix string) *Logger {
	l := &Logger{root: sl, sl: sl, prefix: prefix}
	if prefix != "" {
		l.sl = sl.With("component", prefix)
	}
	return l
}

// WithPrefix creates a sub-logger with an additional prefix
func (l *Logger) WithPrefix(prefix string) *Logger {
	newPrefix := prefix
	if l.prefix != "" {
		newPrefix = l.prefix + "/" + prefix
	}
	return wrap(l.root, newPrefix)
}

// With returns a logger that adds key/value pairs to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{root: l.root, sl: l.sl.With(args...), prefix: l.prefix}
}

// Slog exposes the underlying slog logger for libraries that accept one.
func (l *Logger) Slog() *slog.Logger {
	return l.sl
}

func (l *Logger) log(level Level, format string, args ...any) {
	if !l.sl.Enabled(context.Background(), level.slog()) {
		return
	}
	l.sl.Log(context.Background(), level.slog(), fmt.Sprintf(format, args...))
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// Step logs a named step with timing
func (l *Logger) Step(name string) func() {
	start := time.Now()
	l.Info("▶ Starting: %s", name)
	return func() {
		l.sl.Info(fmt.Sprintf("✓ Completed: %s", name), "took", time.Since(start).Round(time.Millisecond))
	}
}

// Tokens logs token usage
func (l *Logger) Tokens(input, output int) {
	l.sl.Info("📊 Tokens", "input", input, "output", output, "total", input+output)
}

// Banner logs a phase header
func (l *Logger) Banner(title string) {
	l.Info("═══════════════════════════════════════════════════════════════")
	l.Info("%s", title)
	l.Info("═══════════════════════════════════════════════════════════════")
}
