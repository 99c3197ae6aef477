// Package paths resolves the directories termbuild reads and writes.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "termbuild"

func configRoot() (string, error) {
	return rootWithFallback("XDG_CONFIG_HOME", os.UserConfigDir, ".config")
}

func stateRoot() (string, error) {
	noOSDefault := func() (string, error) {
		return "", fmt.Errorf("no OS state directory function")
	}

	return rootWithFallback("XDG_STATE_HOME", noOSDefault, filepath.Join(".local", "state"))
}

func cacheRoot() (string, error) {
	return rootWithFallback("XDG_CACHE_HOME", os.UserCacheDir, ".cache")
}

func rootWithFallback(xdgEnv string, osFn func() (string, error), fallbackDir string) (string, error) {
	// Priority 1: Explicit XDG env var (cross-platform).
	if xdg := os.Getenv(xdgEnv); xdg != "" && filepath.IsAbs(xdg) {
		return filepath.Join(xdg, appName), nil
	}

	// Priority 2: OS-specific default (macOS ~/Library/..., Windows %AppData%, Linux ~/.config).
	root, err := osFn()
	if err == nil && root != "" {
		return filepath.Join(root, appName), nil
	}

	// Priority 3: Home-dir fallback.
	home, homeErr := os.UserHomeDir()
	if homeErr == nil && home != "" {
		return filepath.Join(home, fallbackDir, appName), nil
	}

	if err != nil {
		return "", err
	}

	return "", fmt.Errorf("resolve user home directory")
}

// ConfigRoot returns the user config root directory.
func ConfigRoot() (string, error) {
	return configRoot()
}

// StateRoot returns the user state root directory.
func StateRoot() (string, error) {
	return stateRoot()
}

// CacheRoot returns the user cache root directory.
func CacheRoot() (string, error) {
	return cacheRoot()
}

// ConfigFile returns the path of the YAML config file.
func ConfigFile() (string, error) {
	root, err := configRoot()
	if err != nil {
		return "", err
	}

	return filepath.Join(root, "config.yaml"), nil
}

// ScratchDir returns the default directory for relay files (tee output and
// completion markers).
func ScratchDir() (string, error) {
	root, err := cacheRoot()
	if err != nil {
		return "", err
	}

	return filepath.Join(root, "relay"), nil
}

// LogsDir returns the default log directory.
func LogsDir() (string, error) {
	root, err := stateRoot()
	if err != nil {
		return "", err
	}

	return filepath.Join(root, "logs"), nil
}

// DefaultLogFile returns the default log file path.
func DefaultLogFile() (string, error) {
	logsDir, err := LogsDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(logsDir, "termbuild.log"), nil
}

// HistoryDir returns the default build transcript directory.
func HistoryDir() (string, error) {
	root, err := stateRoot()
	if err != nil {
		return "", err
	}

	return filepath.Join(root, "history"), nil
}
