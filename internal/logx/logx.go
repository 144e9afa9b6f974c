// Package logx provides structured logging for the gateway, built on
// github.com/rs/zerolog. Debug/Info/Warn/Error take a context and
// variadic key-value pairs, matching the shape callers reach for across
// this codebase.
package logx

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the subset of zerolog levels the gateway's config exposes.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger wraps a zerolog.Logger with the venue/data-type-aware helpers the
// streaming client and supervisor use.
type Logger struct {
	z zerolog.Logger
}

// New builds a Logger writing JSON lines to w at the given level. Passing
// io.Discard suppresses all output, the way the teacher suppresses logs in
// TUI mode.
func New(w io.Writer, level Level) *Logger {
	z := zerolog.New(w).With().Timestamp().Logger().Level(level.zerolog())
	return &Logger{z: z}
}

// NewConsole builds a human-readable console logger, for local/CLI runs.
func NewConsole(level Level) *Logger {
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	z := zerolog.New(cw).With().Timestamp().Logger().Level(level.zerolog())
	return &Logger{z: z}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, LevelError)
}

func (l *Logger) event(lvl zerolog.Level, ctx context.Context, msg string, kv []any) {
	e := l.z.WithLevel(lvl)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	_ = ctx // reserved: trace-id extraction hook, see apm.SpanFromContext callers
	e.Msg(msg)
}

// Debug logs at debug level with key/value pairs, e.g. Debug(ctx, "frame dropped", "venue", v, "reason", err).
func (l *Logger) Debug(ctx context.Context, msg string, kv ...any) { l.event(zerolog.DebugLevel, ctx, msg, kv) }

// Info logs at info level.
func (l *Logger) Info(ctx context.Context, msg string, kv ...any) { l.event(zerolog.InfoLevel, ctx, msg, kv) }

// Warn logs at warn level.
func (l *Logger) Warn(ctx context.Context, msg string, kv ...any) { l.event(zerolog.WarnLevel, ctx, msg, kv) }

// Error logs at error level.
func (l *Logger) Error(ctx context.Context, msg string, kv ...any) { l.event(zerolog.ErrorLevel, ctx, msg, kv) }

// With returns a child Logger with the given fields attached to every
// subsequent event, e.g. log.With("venue", "binance", "data_type", "ticker").
func (l *Logger) With(kv ...any) *Logger {
	ctx := l.z.With()
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, kv[i+1])
	}
	return &Logger{z: ctx.Logger()}
}
