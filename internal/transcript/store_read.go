package transcript

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Session is one recorded build found on disk.
type Session struct {
	Meta
	Path string
}

// Reference returns the time used for pruning: close time, else start.
func (s Session) Reference() time.Time {
	if s.ClosedAt != nil {
		return *s.ClosedAt
	}

	return s.StartedAt
}

// ListSessions returns recorded builds, newest first. Directories without
// readable metadata are skipped.
func ListSessions(rootDir string) ([]Session, error) {
	root, err := resolveRoot(rootDir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("list history: %w", err)
	}

	sessions := make([]Session, 0, len(entries))

	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}

		dir := filepath.Join(root, ent.Name())

		data, err := os.ReadFile(filepath.Join(dir, metaFileName)) //nolint:gosec // entries of the history root
		if err != nil {
			continue
		}

		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil || meta.SessionID == "" {
			continue
		}

		sessions = append(sessions, Session{Meta: meta, Path: dir})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})

	return sessions, nil
}

// FindSession resolves a full id or a unique id prefix.
func FindSession(rootDir, idOrPrefix string) (Session, error) {
	sessions, err := ListSessions(rootDir)
	if err != nil {
		return Session{}, err
	}

	var matches []Session

	for _, s := range sessions {
		if s.SessionID == idOrPrefix {
			return s, nil
		}

		if idOrPrefix != "" && strings.HasPrefix(s.SessionID, idOrPrefix) {
			matches = append(matches, s)
		}
	}

	switch len(matches) {
	case 0:
		return Session{}, fmt.Errorf("no recorded build matches %q: %w", idOrPrefix, os.ErrNotExist)
	case 1:
		return matches[0], nil
	default:
		return Session{}, fmt.Errorf("%d recorded builds match %q; use a longer prefix", len(matches), idOrPrefix)
	}
}

// ReadEvents reads a build's events. A build whose host crashed has no
// complete compressed stream; its live file is read instead.
func ReadEvents(rootDir, sessionID string) ([]Event, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	root, err := resolveRoot(rootDir)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(root, sessionID)

	if _, statErr := os.Stat(filepath.Join(dir, eventsLiveFileName)); statErr == nil {
		return readJSONL(filepath.Join(dir, eventsLiveFileName), false)
	}

	return readJSONL(filepath.Join(dir, eventsFileName), true)
}

func readJSONL(path string, compressed bool) (events []Event, err error) {
	file, err := os.Open(path) //nolint:gosec // path is under the history root
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("open history events: %w", err)
	}

	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	var r io.Reader = file

	if compressed {
		gz, gzErr := gzip.NewReader(file)
		if gzErr != nil {
			return nil, fmt.Errorf("open history gzip stream: %w", gzErr)
		}
		defer gz.Close()

		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}

		events = append(events, ev)
	}

	// A truncated gzip tail (killed writer) still yields the events before it.
	if scanErr := scanner.Err(); scanErr != nil && !errors.Is(scanErr, io.ErrUnexpectedEOF) {
		return events, fmt.Errorf("scan history events: %w", scanErr)
	}

	return events, nil
}

// PruneOlderThan removes recorded builds that closed (or started, if never
// closed) before cutoff.
func PruneOlderThan(rootDir string, cutoff time.Time) (int, error) {
	sessions, err := ListSessions(rootDir)
	if err != nil {
		return 0, err
	}

	removed := 0

	for _, s := range sessions {
		if !s.Reference().Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(s.Path); err != nil {
			return removed, fmt.Errorf("prune history session %q: %w", s.SessionID, err)
		}

		removed++
	}

	return removed, nil
}
