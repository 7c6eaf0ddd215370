package logging

import "path/filepath"

// LogDir returns the log directory under the data directory.
func LogDir(dataDir string) string {
	return filepath.Join(dataDir, "logs")
}

// LogPath returns the server log path under the data directory.
func LogPath(dataDir string) string {
	return filepath.Join(LogDir(dataDir), "server.log")
}
