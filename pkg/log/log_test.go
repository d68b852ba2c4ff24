package log

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runcore-labs/runcore/pkg/config"
)

func TestSetupInstallsDefaultLogger(t *testing.T) {
	logger := Setup(config.LogConfig{Level: "info", Format: "json"})
	require.NotNil(t, logger)
	assert.Same(t, logger, slog.Default())
}

func TestParseLevelKnownValues(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
}

func TestParseLevelUnknownDefaultsToInfo(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestSetupTextFormatDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		Setup(config.LogConfig{Level: "debug", Format: "text"})
	})
}
