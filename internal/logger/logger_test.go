package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"codeberg.org/gec/sensord/internal/errors"
	"codeberg.org/gec/sensord/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logger.DebugLevel, logger.ParseLevel("debug"))
	assert.Equal(t, logger.InfoLevel, logger.ParseLevel("info"))
	assert.Equal(t, logger.WarnLevel, logger.ParseLevel("warning"))
	assert.Equal(t, logger.ErrorLevel, logger.ParseLevel("error"))
	assert.Equal(t, logger.InfoLevel, logger.ParseLevel(""))
}

func TestComponentLoggerFields(t *testing.T) {
	logger.SetLogLevel(logger.DebugLevel)
	defer logger.SetLogLevel(logger.InfoLevel)

	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "publisher")

	log.Info().Str("queue", "q1").Msg("published")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "publisher", entry["component"])
	assert.Equal(t, "q1", entry["queue"])
	assert.Equal(t, "published", entry["message"])
	assert.Equal(t, "info", entry["level"])
}

func TestErrorWithCode(t *testing.T) {
	logger.SetLogLevel(logger.DebugLevel)
	defer logger.SetLogLevel(logger.InfoLevel)

	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "config")

	log.ErrorWithCode(errors.New().New(errors.ErrInvalidLogLevel)).Msg("bad config")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "invalid_log_level", entry["error_code"])
	assert.Equal(t, "Invalid log level", entry["error_message"])
}

func TestNopDiscards(t *testing.T) {
	log := logger.Nop()
	assert.NotPanics(t, func() {
		log.Debug().Int("n", 1).Msg("ignored")
		log.Error().Msg("ignored")
	})
}
