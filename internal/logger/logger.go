package logger

import (
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/coinbase/mpcstep-go/internal/config"
)

// New creates a zerolog logger writing to w with the given level and format.
// Any format other than "json" renders human readable console lines.
func New(w io.Writer, logLevel int, logFormat string, logSampler bool) zerolog.Logger {
	writer := w
	if logFormat != "json" {
		writer = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}

	logger := zerolog.New(writer).
		Level(zerolog.Level(logLevel)).
		With().
		Timestamp().
		Logger()

	if logSampler {
		logger = logger.Sample(&zerolog.BasicSampler{N: 5})
	}
	return logger
}

// Init builds the logger described by cfg.
func Init(w io.Writer, cfg config.Config) zerolog.Logger {
	return New(w, cfg.LogLevel, cfg.LogFormat, cfg.LogSampler)
}
