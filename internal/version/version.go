// Package version carries build identity injected at link time via
// -ldflags "-X github.com/you/chatminder/internal/version.Version=...".
package version

var (
	// Version is the semantic version or tag of this build.
	Version = "dev"
	// Commit is the short git hash the binary was built from.
	Commit = "unknown"
	// BuildTime is the RFC3339 timestamp of the build.
	BuildTime = "unknown"
)
