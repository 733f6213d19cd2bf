package version

import (
	"runtime/debug"
	"strings"
	"time"
)

// These variables can be overridden at build time with ldflags
var (
	RelayVersion   string // -X github.com/trufnetwork/fdc-relay/cmd/version.RelayVersion=...
	RelayCommit    string // -X github.com/trufnetwork/fdc-relay/cmd/version.RelayCommit=...
	RelayBuildTime string // -X github.com/trufnetwork/fdc-relay/cmd/version.RelayBuildTime=...
)

const devVersion = "(devel)"

// buildSetting reads a vcs setting the go tool embedded in the binary.
func buildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}

// getVersion returns the ldflags version if set, otherwise the module version
func getVersion() string {
	if RelayVersion != "" {
		return RelayVersion
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return devVersion
}

// getCommit returns the commit (short form) from ldflags or the embedded vcs info
func getCommit() string {
	commit := RelayCommit
	if commit == "" {
		commit = buildSetting("vcs.revision")
	}

	// Return short form (9 chars) for readability
	const shortHashLength = 9
	if len(commit) > shortHashLength {
		return commit[:shortHashLength]
	}
	return commit
}

func getBuildTime() time.Time {
	if RelayBuildTime != "" {
		if t, err := time.Parse(time.RFC3339, RelayBuildTime); err == nil {
			return t
		}
	}
	if t, err := time.Parse(time.RFC3339, buildSetting("vcs.time")); err == nil {
		return t
	}
	return time.Time{}
}

// getBuildTimeDisplay returns a formatted build time with context about whether it's commit or build time
func getBuildTimeDisplay() string {
	buildTime := getBuildTime()
	if buildTime.IsZero() {
		return "unknown"
	}
	if RelayBuildTime != "" && strings.HasSuffix(RelayVersion, "dirty") {
		return buildTime.Format(time.RFC3339) + " (build time)"
	}
	return buildTime.Format(time.RFC3339) + " (commit time)"
}
