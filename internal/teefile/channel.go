// Package teefile carries build output from an out-of-process terminal back
// into the host through a pair of files in a scratch directory.
//
// The terminal side appends merged stdout/stderr to the data file (through
// tee) and writes the completion marker once the command has finished. The
// host side tails the data file with PollNewBytes and asks IsComplete to
// learn when to stop.
//
// File names embed the session id, so two channels opened with different ids
// never share files.
package teefile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	dataSuffix = ".log"
	doneSuffix = ".done"

	// readBlockSize bounds how much one poll pulls from the data file.
	readBlockSize = 64 * 1024
)

// ExitWatcher reports whether the process writing the channel has exited.
type ExitWatcher interface {
	Exited() bool
}

// CleanupWarning reports relay files that could not be removed. It is
// non-fatal: the owning session still closes.
type CleanupWarning struct {
	Paths []string
	Err   error
}

func (w *CleanupWarning) Error() string {
	return fmt.Sprintf("remove relay files %s: %v", strings.Join(w.Paths, ", "), w.Err)
}

func (w *CleanupWarning) Unwrap() error {
	return w.Err
}

// Channel is one session's relay file pair.
type Channel struct {
	id       string
	dataPath string
	donePath string

	mu        sync.Mutex
	file      *os.File
	cursor    int64
	watcher   ExitWatcher
	completed bool
	closed    bool
}

// Open creates (or truncates) the relay files for sessionID inside dir.
// Stale files left behind by a crashed session with the same id belong to no
// live session and are truncated.
func Open(dir, sessionID string) (*Channel, error) {
	if err := validateID(sessionID); err != nil {
		return nil, err
	}

	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("scratch directory is not configured")
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}

	c := &Channel{
		id:       sessionID,
		dataPath: filepath.Join(dir, sessionID+dataSuffix),
		donePath: filepath.Join(dir, sessionID+doneSuffix),
	}

	for _, p := range []string{c.dataPath, c.donePath} {
		if err := os.WriteFile(p, nil, 0o600); err != nil {
			_ = c.removeFiles()
			return nil, fmt.Errorf("create relay file: %w", err)
		}
	}

	return c, nil
}

// ID returns the session id the channel was opened for.
func (c *Channel) ID() string {
	return c.id
}

// DataPath returns the file the terminal appends output to.
func (c *Channel) DataPath() string {
	return c.dataPath
}

// DonePath returns the completion marker file.
func (c *Channel) DonePath() string {
	return c.donePath
}

// Cursor returns the number of bytes already handed out by PollNewBytes.
func (c *Channel) Cursor() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cursor
}

// Watch attaches the process whose exit also counts as completion.
func (c *Channel) Watch(w ExitWatcher) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.watcher = w
}

// PollNewBytes returns the bytes appended since the previous call, or nil if
// the file did not grow. Read errors are treated as transient: whatever was
// read before the error is returned and the cursor only advances past it.
func (c *Channel) PollNewBytes() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, nil
	}

	if c.file == nil {
		f, err := os.Open(c.dataPath)
		if err != nil {
			// The writer may hold an exclusive lock (windows) or be recreating
			// the file; try again on the next poll.
			return nil, fmt.Errorf("open relay data: %w", err)
		}

		c.file = f
	}

	info, err := c.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat relay data: %w", err)
	}

	size := info.Size()
	if size < c.cursor {
		// Truncated underneath us (another open of the same id); restart.
		c.cursor = 0
	}

	if size == c.cursor {
		return nil, nil
	}

	var out []byte

	buf := make([]byte, readBlockSize)
	for c.cursor < size {
		n, readErr := c.file.ReadAt(buf, c.cursor)
		if n > 0 {
			out = append(out, buf[:n]...)
			c.cursor += int64(n)
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}

			return out, fmt.Errorf("read relay data: %w", readErr)
		}
	}

	return out, nil
}

// IsComplete reports whether the completion marker exists and is non-empty,
// or the watched process has exited. Once true it stays true.
func (c *Channel) IsComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.completed {
		return true
	}

	if info, err := os.Stat(c.donePath); err == nil && info.Size() > 0 {
		c.completed = true
		return true
	}

	if c.watcher != nil && c.watcher.Exited() {
		c.completed = true
		return true
	}

	return false
}

// Close removes both relay files. It is idempotent; a failure to delete is
// returned as a *CleanupWarning.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	if c.file != nil {
		_ = c.file.Close()
		c.file = nil
	}

	return c.removeFiles()
}

func (c *Channel) removeFiles() error {
	var (
		failed []string
		errs   []error
	)

	for _, p := range []string{c.dataPath, c.donePath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			failed = append(failed, p)
			errs = append(errs, err)
		}
	}

	if len(failed) == 0 {
		return nil
	}

	return &CleanupWarning{Paths: failed, Err: errors.Join(errs...)}
}

func validateID(sessionID string) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}

	if sessionID != filepath.Base(sessionID) || strings.Contains(sessionID, "..") || strings.ContainsAny(sessionID, `/\`) {
		return errors.New("invalid session id")
	}

	return nil
}
