// Package version carries build metadata set with -ldflags -X.
package version

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// String formats the build metadata on one line.
func String() string {
	return Version + " (" + GitCommit + ", built " + BuildTime + ")"
}
