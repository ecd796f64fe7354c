// Package version carries build metadata, set at build time via -ldflags.
package version

var (
	// Version is the semantic version of the lgl tool.
	Version = "0.1.0"

	// Date is the build date in RFC 3339, set via -ldflags.
	Date = ""

	// Commit is the git commit the binary was built from.
	Commit = "unknown"
)
