// Package appversion carries build metadata injected via ldflags:
//
//	-ldflags="-X github.com/dantte-lp/smgw/internal/version.Version=v0.3.0
//	          -X github.com/dantte-lp/smgw/internal/version.GitCommit=abc1234
//	          -X github.com/dantte-lp/smgw/internal/version.BuildDate=2026-10-01T12:00:00Z"
package appversion

import "fmt"

// Version is the semantic version ("dev" for local builds).
var Version = "dev"

// GitCommit is the short git commit hash at build time.
var GitCommit = "unknown"

// BuildDate is the RFC 3339 build timestamp.
var BuildDate = "unknown"

// Short returns "binary version" for log lines and user agents.
func Short(binary string) string {
	return binary + "/" + Version
}

// Full returns a human-readable multi-line version string.
func Full(binary string) string {
	return fmt.Sprintf("%s %s\n  commit:  %s\n  built:   %s", binary, Version, GitCommit, BuildDate)
}
