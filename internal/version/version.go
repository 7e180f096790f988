// Package version provides build-time version information.
//
// Set at build time via:
//
//	go build -ldflags "-X github.com/paulirotta/ahma-mcp-go/internal/version.GitCommit=$(git rev-parse --short HEAD)"
package version

// GitCommit is the short git commit hash, set at build time via ldflags.
var GitCommit = "dev"

// String returns the value reported as the MCP implementation version.
func String() string {
	return GitCommit
}
