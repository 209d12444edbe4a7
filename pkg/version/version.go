// Package version exposes build metadata for logs, health responses, and
// user-agent strings. The commit comes from -ldflags when set, otherwise
// from the VCS stamp in debug.BuildInfo, otherwise "dev".
package version

import "runtime/debug"

// AppName is the service name used in version strings.
const AppName = "resumeforge"

// gitCommitOverride is injected with -ldflags in container builds that
// have no .git directory.
var gitCommitOverride string

// GitCommit is the short commit hash, or "dev" when no build info exists
// (plain `go test`, non-git checkouts).
var GitCommit = resolveCommit()

func resolveCommit() string {
	if gitCommitOverride != "" {
		return short(gitCommitOverride)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return short(s.Value)
			}
		}
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "resumeforge/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}
