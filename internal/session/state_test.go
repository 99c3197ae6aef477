package session

import (
	"errors"
	"testing"
	"time"
)

func TestFinishedMarker(t *testing.T) {
	tests := []struct {
		elapsed time.Duration
		errors  int
		want    string
	}{
		{elapsed: 1234 * time.Millisecond, want: "[Finished in 1.2]"},
		{elapsed: 0, want: "[Finished in 0.0]"},
		{elapsed: 65 * time.Second, errors: 3, want: "[Finished in 65.0 with 3 errors]"},
		{elapsed: 250 * time.Millisecond, errors: 1, want: "[Finished in 0.2 with 1 errors]"},
	}

	for _, tt := range tests {
		if got := FinishedMarker(tt.elapsed, tt.errors); got != tt.want {
			t.Errorf("FinishedMarker(%s, %d) = %q, want %q", tt.elapsed, tt.errors, got, tt.want)
		}
	}
}

func TestStateString(t *testing.T) {
	want := map[State]string{
		Idle:       "idle",
		Running:    "running",
		Completing: "completing",
		Cancelling: "cancelling",
		Closed:     "closed",
		State(42):  "state(42)",
	}

	for s, w := range want {
		if s.String() != w {
			t.Errorf("%d.String() = %q, want %q", int32(s), s.String(), w)
		}
	}
}

func TestErrorMessages(t *testing.T) {
	err := &InvalidStateError{Op: "start", State: Running}
	if err.Error() != "cannot start session in state running" {
		t.Fatalf("InvalidStateError = %q", err.Error())
	}

	cause := errors.New("permission denied")

	scratch := &ScratchDirError{Dir: "/x", Err: cause}
	if !errors.Is(scratch, cause) {
		t.Fatal("ScratchDirError does not unwrap")
	}

	if scratch.Error() != "scratch directory /x: permission denied" {
		t.Fatalf("ScratchDirError = %q", scratch.Error())
	}
}
