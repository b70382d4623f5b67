package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_WritesJSONToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "scenedex.log")

	logger, cleanup, err := Setup(Config{
		Level:    "info",
		FilePath: logPath,
		MaxSizeMB: 1,
		MaxFiles:  2,
	})
	require.NoError(t, err)

	logger.Info("sync_complete", slog.String("document", "pilot.fountain"))
	cleanup()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.Split(strings.TrimSpace(string(data)), "\n")[0]), &entry))
	assert.Equal(t, "sync_complete", entry["msg"])
	assert.Equal(t, "pilot.fountain", entry["document"])
}

func TestSetup_LevelFiltering(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "scenedex.log")

	logger, cleanup, err := Setup(Config{
		Level:    "warn",
		FilePath: logPath,
		MaxSizeMB: 1,
		MaxFiles:  2,
	})
	require.NoError(t, err)

	logger.Debug("ignored")
	logger.Info("also ignored")
	logger.Warn("kept")
	cleanup()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "kept")
	assert.NotContains(t, string(data), "ignored")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}

func TestRotatingWriter_Rotates(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "scenedex.log")

	// 0 MB max size forces rotation on every write.
	w, err := NewRotatingWriter(logPath, 0, 3)
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 3; i++ {
		_, err = w.Write([]byte("entry\n"))
		require.NoError(t, err)
	}

	_, err = os.Stat(logPath + ".1")
	assert.NoError(t, err, "rotated file should exist")
}
