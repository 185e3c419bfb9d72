// Package logging provides the logging facade used by the mpcstep session
// layer.
//
// The Logger interface wraps the context-aware subset of log/slog that the
// library needs. Applications pick a backend at Open time:
//
//	// slog.Default()
//	logger := logging.New(nil)
//
//	// a zerolog.Logger, as built by the mpcstep CLI
//	zl := zerolog.New(os.Stderr).With().Timestamp().Logger()
//	logger = logging.NewZerolog(zl)
//
//	// discard everything
//	logger = logging.Nop()
//
// # Redaction
//
// Share bytes, secrets and backup private keys never reach a log line. When a
// log statement concerns such a value, attach logging.Redacted with the
// attribute name instead:
//
//	logger.Debug(ctx, "share updated", logging.Redacted("share"), "kind", kind)
//	// share="[redacted]"
//
// Message sizes, operation kinds, roles and status bits are safe to log.
package logging
