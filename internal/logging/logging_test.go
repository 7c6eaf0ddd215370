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

func TestSetupWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Level:         "info",
		FilePath:      filepath.Join(dir, "logs", "server.log"),
		MaxSizeMB:     1,
		MaxFiles:      2,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	defer cleanup()

	logger.Info("document ingested", slog.String("filename", "handbook.md"), slog.Int("chunks", 7))

	data, err := os.ReadFile(cfg.FilePath)
	require.NoError(t, err)

	line := strings.TrimSpace(strings.Split(string(data), "\n")[0])
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &record))

	assert.Equal(t, "document ingested", record["msg"])
	assert.Equal(t, "handbook.md", record["filename"])
	assert.Equal(t, float64(7), record["chunks"])
}

func TestSetupRespectsLevel(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Level:    "warn",
		FilePath: filepath.Join(dir, "server.log"),
	}

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	defer cleanup()

	logger.Debug("hidden")
	logger.Info("also hidden")
	logger.Warn("visible")

	data, err := os.ReadFile(cfg.FilePath)
	require.NoError(t, err)

	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "visible")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), "level %q", tt.in)
	}
}

func TestRotatingWriterRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.log")

	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	defer w.Close()
	w.SetImmediateSync(false)

	// Force rotation by exceeding 1 MB.
	chunk := strings.Repeat("x", 64*1024)
	for i := 0; i < 20; i++ {
		_, err := w.Write([]byte(chunk))
		require.NoError(t, err)
	}

	_, err = os.Stat(path)
	require.NoError(t, err)
	_, err = os.Stat(path + ".1")
	require.NoError(t, err, "rotated file should exist")
}

func TestRotatingWriterKeepsMaxFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.log")

	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	defer w.Close()
	w.SetImmediateSync(false)

	chunk := strings.Repeat("x", 64*1024)
	for i := 0; i < 100; i++ {
		_, err := w.Write([]byte(chunk))
		require.NoError(t, err)
	}

	matches, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(matches), 2, "no more than maxFiles rotated files kept")
}

func TestLogPathLayout(t *testing.T) {
	assert.Equal(t, filepath.Join("data", "logs", "server.log"), LogPath("data"))
}
