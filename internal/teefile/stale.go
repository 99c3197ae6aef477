package teefile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// StaleFile is a relay file found in the scratch directory.
type StaleFile struct {
	Path      string
	SessionID string
	Size      int64
	ModTime   time.Time
}

// ListStale returns relay files in dir whose session id is not in live.
// A missing directory yields no files.
func ListStale(dir string, live map[string]bool) ([]StaleFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("read scratch directory: %w", err)
	}

	var out []StaleFile

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		id, ok := sessionIDFromName(name)
		if !ok || live[id] {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		out = append(out, StaleFile{
			Path:      filepath.Join(dir, name),
			SessionID: id,
			Size:      info.Size(),
			ModTime:   info.ModTime(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ModTime.Before(out[j].ModTime)
	})

	return out, nil
}

// ClearStale removes the stale relay files in dir and returns how many were
// removed.
func ClearStale(dir string, live map[string]bool) (int, error) {
	files, err := ListStale(dir, live)
	if err != nil {
		return 0, err
	}

	removed := 0

	var errs []error

	for _, f := range files {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}

		removed++
	}

	return removed, errors.Join(errs...)
}

func sessionIDFromName(name string) (string, bool) {
	for _, suffix := range []string{dataSuffix, doneSuffix} {
		if id, ok := strings.CutSuffix(name, suffix); ok && id != "" {
			return id, true
		}
	}

	return "", false
}
