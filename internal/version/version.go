// Package version holds build metadata for dose-sim. The values are set at
// link time with -ldflags "-X github.com/banshee-data/dose.report/internal/version.Version=...".
package version

import "fmt"

var (
	// Version is the release tag
	Version = "dev"
	// GitSHA is the commit the binary was built from
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for -version output.
func String() string {
	return fmt.Sprintf("%s (%s, built %s)", Version, GitSHA, BuildTime)
}
