package logging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"
)

// NewZerolog adapts a zerolog.Logger to Logger. Arguments follow the slog
// convention: alternating keys and values, or slog.Attr values.
func NewZerolog(logger zerolog.Logger) Logger {
	return &zerologLogger{logger: logger}
}

type zerologLogger struct {
	logger zerolog.Logger
}

func (l *zerologLogger) Debug(ctx context.Context, msg string, args ...any) {
	emit(ctx, l.logger.Debug(), msg, args)
}

func (l *zerologLogger) Info(ctx context.Context, msg string, args ...any) {
	emit(ctx, l.logger.Info(), msg, args)
}

func (l *zerologLogger) Warn(ctx context.Context, msg string, args ...any) {
	emit(ctx, l.logger.Warn(), msg, args)
}

func (l *zerologLogger) Error(ctx context.Context, msg string, args ...any) {
	emit(ctx, l.logger.Error(), msg, args)
}

func (l *zerologLogger) With(args ...any) Logger {
	c := l.logger.With()
	for _, kv := range pairs(args) {
		c = c.Interface(kv.key, kv.value)
	}
	return &zerologLogger{logger: c.Logger()}
}

func emit(ctx context.Context, ev *zerolog.Event, msg string, args []any) {
	// Disabled levels return a nil event.
	if ev == nil {
		return
	}
	if ctx != nil {
		ev = ev.Ctx(ctx)
	}
	for _, kv := range pairs(args) {
		ev = ev.Interface(kv.key, kv.value)
	}
	ev.Msg(msg)
}

type pair struct {
	key   string
	value any
}

// pairs mirrors how slog.Logger interprets its variadic arguments.
func pairs(args []any) []pair {
	out := make([]pair, 0, len(args)/2+1)
	for len(args) > 0 {
		switch a := args[0].(type) {
		case slog.Attr:
			out = append(out, pair{key: a.Key, value: a.Value.Resolve().Any()})
			args = args[1:]
		case string:
			if len(args) == 1 {
				out = append(out, pair{key: "!BADKEY", value: a})
				args = nil
				continue
			}
			out = append(out, pair{key: a, value: args[1]})
			args = args[2:]
		default:
			out = append(out, pair{key: "!BADKEY", value: fmt.Sprint(a)})
			args = args[1:]
		}
	}
	return out
}
