// Package paths provides centralized path resolution for thatbrowser.
// This package has NO internal imports (only stdlib) to avoid import cycles.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

const settingsFile = "settings.json"

// BaseDir returns the thatbrowser base directory (~/.thatbrowser).
func BaseDir() (string, error) {
	if dir := os.Getenv("THATBROWSER_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".thatbrowser"), nil
}

// DataPath returns a path within the data directory (~/.thatbrowser/<subpath>).
func DataPath(subpath string) (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, subpath), nil
}

// SettingsPath returns the settings file to use.
// Priority: ./settings.{json,yaml,yml,toml} > ~/.thatbrowser/settings.json
func SettingsPath() (string, error) {
	for _, name := range []string{"settings.json", "settings.yaml", "settings.yml", "settings.toml"} {
		if _, err := os.Stat(name); err == nil {
			abs, err := filepath.Abs(name)
			if err != nil {
				return "", fmt.Errorf("failed to get absolute path: %w", err)
			}
			return abs, nil
		}
	}
	return DataPath(settingsFile)
}

// HistoryPath returns the sqlite run history path.
func HistoryPath() (string, error) {
	return DataPath("history.db")
}

// ProfileDir returns the Chromium user data directory for a profile.
func ProfileDir(name string) (string, error) {
	if name == "" {
		name = "default"
	}
	return DataPath(filepath.Join("profiles", name))
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// EnsureParentDir creates the parent directory of a file path if it doesn't exist.
func EnsureParentDir(filePath string) error {
	return EnsureDir(filepath.Dir(filePath))
}

// ExpandTilde expands a path that starts with ~ to the user's home directory.
func ExpandTilde(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	if len(path) == 1 {
		return home, nil
	}
	return filepath.Join(home, path[1:]), nil
}
