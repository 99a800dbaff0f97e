package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dinoarena/server/internal/config"
)

func TestNewLoggerFormats(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := NewLogger(config.LoggingConfig{Level: "error", Format: format})
		require.NoError(t, err, format)
		require.NotNil(t, logger)
		logger.Debug("suppressed below the configured level")
	}
}

func TestNewLoggerRejectsBadSettings(t *testing.T) {
	_, err := NewLogger(config.LoggingConfig{Level: "verbose", Format: "json"})
	assert.Error(t, err)

	_, err = NewLogger(config.LoggingConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
