package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep/logging"
)

func TestSlogLoggerWritesAttributes(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := logging.New(slog.New(handler)).With("component", "test")

	logger.Debug(context.Background(), "step", "kind", "ecdsa-sign", logging.Redacted("share"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "step", line["msg"])
	assert.Equal(t, "test", line["component"])
	assert.Equal(t, "ecdsa-sign", line["kind"])
	assert.Equal(t, logging.Placeholder(), line["share"])
}

func TestZerologAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewZerolog(zerolog.New(&buf).Level(zerolog.InfoLevel)).With("role", 1)

	logger.Debug(context.Background(), "hidden")
	assert.Zero(t, buf.Len())

	logger.Info(context.Background(), "finished", "kind", "eddsa-sign", logging.Redacted("signature"), "dangling")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "finished", line["message"])
	assert.EqualValues(t, 1, line["role"])
	assert.Equal(t, "eddsa-sign", line["kind"])
	assert.Equal(t, logging.Placeholder(), line["signature"])
	assert.Equal(t, "dangling", line["!BADKEY"])
}

func TestNopDiscards(t *testing.T) {
	logger := logging.Nop().With("k", "v")
	logger.Error(context.Background(), "ignored")
	assert.Equal(t, logging.Nop(), logger)
}
