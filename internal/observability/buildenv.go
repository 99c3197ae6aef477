package observability

import (
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
)

// Relay modes reported by BuildEnv.
const (
	RelayRequired = "required"
	RelayOptional = "optional"
)

// BuildEnv describes the configured build terminal and relay. It is attached
// to every log record and to the trace resource so records from different
// setups can be told apart.
type BuildEnv struct {
	TerminalProgram string
	// Headless is true for the direct and pty backends.
	Headless  bool
	RelayPath string
	// AllowMissingRelay degrades to no-relay mode instead of failing.
	AllowMissingRelay bool
}

// IsZero reports whether no build environment was configured.
func (b BuildEnv) IsZero() bool {
	return b == BuildEnv{}
}

// RelayMode is RelayOptional when a missing relay utility is tolerated.
func (b BuildEnv) RelayMode() string {
	if b.AllowMissingRelay {
		return RelayOptional
	}

	return RelayRequired
}

// Attributes returns the trace resource attributes.
func (b BuildEnv) Attributes() []attribute.KeyValue {
	if b.IsZero() {
		return nil
	}

	return []attribute.KeyValue{
		attribute.String("termbuild.terminal.program", b.TerminalProgram),
		attribute.Bool("termbuild.terminal.headless", b.Headless),
		attribute.String("termbuild.relay.path", b.RelayPath),
		attribute.String("termbuild.relay.mode", b.RelayMode()),
	}
}

func (b BuildEnv) logAttr() slog.Attr {
	return slog.Group("build",
		slog.String("terminal", b.TerminalProgram),
		slog.Bool("headless", b.Headless),
		slog.String("relay", b.RelayMode()),
	)
}
