package session

import (
	"fmt"
	"time"
)

// State is a session lifecycle state.
type State int32

// Session states. Running moves to Completing on natural completion or to
// Cancelling on Cancel; both end in Closed.
const (
	Idle State = iota
	Running
	Completing
	Cancelling
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completing:
		return "completing"
	case Cancelling:
		return "cancelling"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Outcome describes how a closed session ended.
type Outcome string

// Session outcomes.
const (
	OutcomeFinished  Outcome = "finished"
	OutcomeCancelled Outcome = "cancelled"
)

// InvalidStateError reports an operation called in the wrong state.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s session in state %s", e.Op, e.State)
}

// ScratchDirError reports a missing or unwritable scratch directory.
type ScratchDirError struct {
	Dir string
	Err error
}

func (e *ScratchDirError) Error() string {
	if e.Dir == "" {
		return fmt.Sprintf("scratch directory: %v", e.Err)
	}

	return fmt.Sprintf("scratch directory %s: %v", e.Dir, e.Err)
}

func (e *ScratchDirError) Unwrap() error {
	return e.Err
}

// CancelledMarker is emitted to the sink when a build is cancelled.
const CancelledMarker = "[Cancelled]"

// FinishedMarker renders the end-of-build marker the sink styles on.
func FinishedMarker(elapsed time.Duration, errorCount int) string {
	if errorCount > 0 {
		return fmt.Sprintf("[Finished in %.1f with %d errors]", elapsed.Seconds(), errorCount)
	}

	return fmt.Sprintf("[Finished in %.1f]", elapsed.Seconds())
}
