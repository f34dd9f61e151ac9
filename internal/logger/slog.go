package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

// SlogLogger implements Logger on top of log/slog.
type SlogLogger struct {
	handler slog.Handler
	logger  *slog.Logger
}

// NewSlogLogger creates a JSON logger writing to w at the given level.
// Timestamps are converted to tz when it is non-nil.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) *SlogLogger {
	opts := &slog.HandlerOptions{
		Level: level.slogLevel(),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if tz != nil && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
				a.Value = slog.TimeValue(a.Value.Time().In(tz))
			}
			return a
		},
	}
	h := slog.NewJSONHandler(w, opts)
	return &SlogLogger{handler: h, logger: slog.New(h)}
}

// NewTextLogger creates a human-readable logger for interactive CLI use.
func NewTextLogger(w io.Writer, level LogLevel) *SlogLogger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level.slogLevel()})
	return &SlogLogger{handler: h, logger: slog.New(h)}
}

// ParseLevel maps a configuration string onto a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LogLevelDebug:
		return LogLevelDebug
	case LogLevelWarn, "warning":
		return LogLevelWarn
	case LogLevelError:
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (s *SlogLogger) Debug(msg string, fields ...Field) { s.log(slog.LevelDebug, msg, fields) }
func (s *SlogLogger) Info(msg string, fields ...Field)  { s.log(slog.LevelInfo, msg, fields) }
func (s *SlogLogger) Warn(msg string, fields ...Field)  { s.log(slog.LevelWarn, msg, fields) }
func (s *SlogLogger) Error(msg string, fields ...Field) { s.log(slog.LevelError, msg, fields) }

// With returns a child logger carrying fields on every record.
func (s *SlogLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return s
	}
	h := s.handler.WithAttrs(toAttrs(fields))
	return &SlogLogger{handler: h, logger: slog.New(h)}
}

// Module returns a child logger tagged with the module name.
func (s *SlogLogger) Module(name string) Logger {
	return s.With(String("module", name))
}

func (s *SlogLogger) log(level slog.Level, msg string, fields []Field) {
	ctx := context.Background()
	if !s.handler.Enabled(ctx, level) {
		return
	}
	s.logger.LogAttrs(ctx, level, msg, toAttrs(fields)...)
}

func toAttrs(fields []Field) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, slog.Any(f.Key, f.Value))
	}
	return attrs
}
