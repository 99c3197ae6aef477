package session

import (
	"time"

	"github.com/musher-dev/termbuild/internal/pump"
)

// Info is passed to the sink once the terminal is running.
type Info struct {
	ID          string
	CommandLine string
	Dir         string
	Pid         int
	// Relay is false in no-relay mode: no chunks will follow.
	Relay   bool
	Started time.Time
}

// Result summarises a closed session.
type Result struct {
	ID          string
	CommandLine string
	Outcome     Outcome
	Elapsed     time.Duration
	ErrorCount  int
	// Marker is the end-of-build line; empty in quiet mode.
	Marker string
	// Debug holds the [cmd: ...], [dir: ...], [path: ...] trailer lines,
	// set only when the build reported errors.
	Debug []string
	// CleanupErr is a *teefile.CleanupWarning when relay files remained.
	CleanupErr error
}

// Sink receives session output and lifecycle notifications. Calls for one
// session never overlap.
//
// OnChunk runs on the pump goroutine; it must not call Session.Cancel.
type Sink interface {
	OnStarted(Info)
	OnChunk(pump.Chunk)
	OnFinished(Result)
	OnCancelled(Result)
}

// ErrorCounter is implemented by sinks that match error locations. The
// count feeds the finished marker.
type ErrorCounter interface {
	ErrorCount() int
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) OnStarted(Info) {}
func (NopSink) OnChunk(pump.Chunk) {}
func (NopSink) OnFinished(Result) {}
func (NopSink) OnCancelled(Result) {}
