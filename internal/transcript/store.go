// Package transcript keeps a history of builds: per session, the output as
// compressed JSONL events plus a metadata file describing the build and how
// it ended.
package transcript

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	eventsFileName     = "events.jsonl.gz"
	eventsLiveFileName = "events.live.jsonl"
	metaFileName       = "meta.json"
)

// Event kinds.
const (
	KindOutput = "output"
	KindMarker = "marker"
)

// Event is one recorded piece of build output.
type Event struct {
	SessionID string    `json:"sessionId"`
	Seq       uint64    `json:"seq"`
	TS        time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	Final     bool      `json:"final,omitempty"`
}

// Meta describes a recorded build.
type Meta struct {
	SessionID   string     `json:"sessionId"`
	CommandLine string     `json:"commandLine"`
	Dir         string     `json:"dir,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	ClosedAt    *time.Time `json:"closedAt,omitempty"`
	Outcome     string     `json:"outcome,omitempty"`
	ErrorCount  int        `json:"errorCount"`
	ElapsedMS   int64      `json:"elapsedMs,omitempty"`
}

// StoreOptions identifies the build being recorded.
type StoreOptions struct {
	SessionID   string
	Dir         string
	CommandLine string
	WorkDir     string
}

// Store records one build. The live file is appended and flushed per event
// so a crashed host still leaves readable history; it is removed once the
// compressed stream is closed cleanly.
type Store struct {
	mu sync.Mutex

	dir  string
	meta Meta
	seq  uint64

	file     *os.File
	gz       *gzip.Writer
	bw       *bufio.Writer
	liveFile *os.File

	closed bool
}

// NewStore creates the history directory for one build.
func NewStore(opts StoreOptions) (*Store, error) {
	if err := validateSessionID(opts.SessionID); err != nil {
		return nil, err
	}

	root, err := resolveRoot(opts.Dir)
	if err != nil {
		return nil, err
	}

	sessionDir := filepath.Join(root, opts.SessionID)
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(sessionDir, eventsFileName), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // session id is validated
	if err != nil {
		return nil, fmt.Errorf("open history events: %w", err)
	}

	liveFile, err := os.OpenFile(filepath.Join(sessionDir, eventsLiveFileName), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // session id is validated
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open live history events: %w", err)
	}

	gz := gzip.NewWriter(f)

	s := &Store{
		dir: sessionDir,
		meta: Meta{
			SessionID:   opts.SessionID,
			CommandLine: opts.CommandLine,
			Dir:         opts.WorkDir,
			StartedAt:   time.Now().UTC(),
		},
		file:     f,
		gz:       gz,
		bw:       bufio.NewWriterSize(gz, 64*1024),
		liveFile: liveFile,
	}

	if err := s.writeMetaLocked(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// SessionID returns the recorded session id.
func (s *Store) SessionID() string {
	return s.meta.SessionID
}

// Append records text of the given kind. Empty non-final text is skipped.
func (s *Store) Append(kind, text string, final bool) error {
	if text == "" && !final {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("history store is closed")
	}

	s.seq++

	line, err := json.Marshal(&Event{
		SessionID: s.meta.SessionID,
		Seq:       s.seq,
		TS:        time.Now().UTC(),
		Kind:      kind,
		Text:      text,
		Final:     final,
	})
	if err != nil {
		return fmt.Errorf("marshal history event: %w", err)
	}

	line = append(line, '\n')

	if _, err := s.bw.Write(line); err != nil {
		return fmt.Errorf("write history event: %w", err)
	}

	if _, err := s.liveFile.Write(line); err != nil {
		return fmt.Errorf("write live history event: %w", err)
	}

	return nil
}

// Finish records the outcome and closes the store.
func (s *Store) Finish(outcome string, errorCount int, elapsed time.Duration) error {
	s.mu.Lock()
	s.meta.Outcome = outcome
	s.meta.ErrorCount = errorCount
	s.meta.ElapsedMS = elapsed.Milliseconds()
	s.mu.Unlock()

	return s.Close()
}

// Close flushes the compressed stream and stamps the close time. It is
// idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	now := time.Now().UTC()
	s.meta.ClosedAt = &now

	var errs []error

	if err := s.writeMetaLocked(); err != nil {
		errs = append(errs, err)
	}

	if err := s.bw.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush history events: %w", err))
	}

	if err := s.gz.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close history gzip stream: %w", err))
	}

	if err := s.file.Close(); err != nil {
		errs = append(errs, err)
	}

	if err := s.liveFile.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		_ = os.Remove(filepath.Join(s.dir, eventsLiveFileName))
	}

	return errors.Join(errs...)
}

func (s *Store) writeMetaLocked() error {
	data, err := json.MarshalIndent(&s.meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history meta: %w", err)
	}

	if err := os.WriteFile(filepath.Join(s.dir, metaFileName), data, 0o600); err != nil {
		return fmt.Errorf("write history meta: %w", err)
	}

	return nil
}

func validateSessionID(sessionID string) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}

	if sessionID != filepath.Base(sessionID) || strings.Contains(sessionID, "..") || strings.ContainsAny(sessionID, `/\`) {
		return errors.New("invalid session id")
	}

	return nil
}
