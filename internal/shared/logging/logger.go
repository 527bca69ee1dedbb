package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelCritical sits above slog.LevelError. Records at this level mean an
// operator has to look at the process, but the process keeps running.
const LevelCritical = slog.Level(12)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Critical(msg string, args ...any)
	Fatal(msg string, args ...any)
}

type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger writes JSON records to stdout.
func NewSlogLogger(level slog.Level) Logger {
	return NewSlogLoggerTo(os.Stdout, level, "json")
}

// NewSlogLoggerTo writes records to w. Format is "json" or "text".
func NewSlogLoggerTo(w io.Writer, level slog.Level, format string) Logger {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.TimeValue(a.Value.Time().UTC())
			}
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelCritical {
					a.Value = slog.StringValue("FATAL")
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return &SlogLogger{log: slog.New(handler)}
}

// ParseLevel maps a config level name to a slog level. Unknown names fall
// back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (sl *SlogLogger) Debug(msg string, args ...any) {
	sl.log.Debug(msg, args...)
}

func (sl *SlogLogger) Info(msg string, args ...any) {
	sl.log.Info(msg, args...)
}

func (sl *SlogLogger) Warn(msg string, args ...any) {
	sl.log.Warn(msg, args...)
}

func (sl *SlogLogger) Error(msg string, args ...any) {
	sl.log.Error(msg, args...)
}

func (sl *SlogLogger) Critical(msg string, args ...any) {
	sl.log.Log(context.Background(), LevelCritical, msg, args...)
}

func (sl *SlogLogger) Fatal(msg string, args ...any) {
	sl.log.Log(context.Background(), LevelCritical, msg, args...)
	os.Exit(1)
}

// Nop discards everything. Fatal still exits.
type Nop struct{}

func (Nop) Debug(string, ...any)    {}
func (Nop) Info(string, ...any)     {}
func (Nop) Warn(string, ...any)     {}
func (Nop) Error(string, ...any)    {}
func (Nop) Critical(string, ...any) {}
func (Nop) Fatal(string, ...any)    { os.Exit(1) }
