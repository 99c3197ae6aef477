// Package buildinfo stores build-time metadata shared across packages.
package buildinfo

// Set via ldflags, e.g.
//
//	-X github.com/musher-dev/termbuild/internal/buildinfo.Version=v0.3.0
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
