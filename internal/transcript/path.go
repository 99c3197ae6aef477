package transcript

import (
	"fmt"

	"github.com/musher-dev/termbuild/internal/paths"
)

// DefaultDir returns the default build history directory.
func DefaultDir() (string, error) {
	dir, err := paths.HistoryDir()
	if err != nil {
		return "", fmt.Errorf("resolve history directory: %w", err)
	}

	return dir, nil
}

func resolveRoot(rootDir string) (string, error) {
	if rootDir != "" {
		return rootDir, nil
	}

	return DefaultDir()
}
