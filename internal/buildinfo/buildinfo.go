// Package buildinfo holds the process-wide build metadata embedded at link
// time. It is intentionally the only package-level mutable-looking state in
// the repository: everything else (IPD, counters, sessions) is scoped to a
// Session or Transfer instance, never global.
package buildinfo

import "os"

// Set via -ldflags "-X github.com/flowline-labs/tsunamigo/internal/buildinfo.GitRevision=... -X .../buildinfo.BuildTimestamp=...".
var (
	GitRevision    = "unknown"
	BuildTimestamp = "unknown"
)

// Version renders a one-line --version string. When NIX_BUILD_TOP is set
// (reproducible Nix build), the timestamp and revision are suppressed so
// the output is bit-for-bit reproducible across builders.
func Version(appVersion string) string {
	if _, ok := os.LookupEnv("NIX_BUILD_TOP"); ok {
		return appVersion
	}
	return appVersion + " (" + GitRevision + ", built " + BuildTimestamp + ")"
}
