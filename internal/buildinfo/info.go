// Package buildinfo carries version details stamped in at link time:
//
//	go build -ldflags "-X github.com/cleared-dev/concilia/internal/buildinfo.Version=v0.3.0" ./cmd/concilia
package buildinfo

var (
	// Version will be set via ldflags during build.
	Version = "dev"
	// Commit will be set via ldflags during build.
	Commit = "none"
	// Date will be set via ldflags during build.
	Date = "unknown"
)
