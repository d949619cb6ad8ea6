package core

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"parcel-tracking-service/config"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_InvalidLevel(t *testing.T) {
	t.Parallel()

	_, err := NewLogger(config.Config{LogLevel: "loud"})
	assert.Error(t, err)
}

func TestNewLogger_WritesToLogsDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewLogger(config.Config{LogLevel: "info", LogsDirectory: dir})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("Refreshed deliveries")
	_ = logger.Sync()

	files, err := filepath.Glob(filepath.Join(dir, "parcel-tracking-service-*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	content, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(content), "Refreshed deliveries"))
	assert.False(t, strings.Contains(string(content), "hidden"))
}
