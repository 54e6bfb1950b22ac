// Package version reports build information for osm2vcf.
package version

import (
	"runtime"
	"runtime/debug"
)

// Set at build time with -ldflags "-X github.com/NERVsystems/osm2vcf/pkg/version.BuildVersion=..."
var (
	BuildVersion = "0.1.0"
	BuildCommit  = "unknown"
	BuildDate    = "unknown"
)

// Info returns version details as a flat map
func Info() map[string]string {
	commit := BuildCommit
	if commit == "unknown" {
		if rev, ok := vcsRevision(); ok {
			commit = rev
		}
	}

	return map[string]string{
		"version":    BuildVersion,
		"commit":     commit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
	}
}

// UserAgent is the default User-Agent sent to the OpenStreetMap API
func UserAgent() string {
	return "osm2vcf/" + BuildVersion
}

func vcsRevision() (string, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 12 {
				return s.Value[:12], true
			}
			return s.Value, true
		}
	}
	return "", false
}
