package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir picks a per-OS data directory for the embedded stores,
// falling back to ./data when no home directory is known.
func DefaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return "./data"
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "eventpipe")
	}
	// macOS
	if isDir(filepath.Join(homeDir, "Library")) {
		return filepath.Join(homeDir, "Library", "Application Support", "eventpipe")
	}
	// Windows
	if isDir(filepath.Join(homeDir, "AppData")) {
		return filepath.Join(homeDir, "AppData", "Local", "eventpipe")
	}
	return filepath.Join(homeDir, ".local", "share", "eventpipe")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
