package main

import (
	"fmt"
	"os/exec"
	"strings"
)

var (
	// Set at build time via go build -ldflags
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// GetVersionInfo returns formatted version information
func GetVersionInfo() string {
	return fmt.Sprintf("rin v%s (commit: %s, built: %s)", Version, GetGitCommit(), BuildTime)
}

// GetGitCommit gets the current git commit hash at runtime
func GetGitCommit() string {
	if GitCommit != "unknown" {
		return GitCommit // Use build-time value if available
	}

	// Fallback to runtime git command
	cmd := exec.Command("git", "rev-parse", "--short", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(output))
}
