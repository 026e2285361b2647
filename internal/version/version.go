// Package version reports the build version of the bridge.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// Set at build time:
//
//	go build -ldflags="-X github.com/muurk/miyo/internal/version.Version=v1.2.3 \
//	                   -X github.com/muurk/miyo/internal/version.Commit=abc123"
//
// Unset values are filled from the VCS stamp of the binary, then from "dev".
var (
	// Version is the semantic version of the bridge
	Version = ""
	// Commit is the short git commit hash
	Commit = ""
)

// Product is the name sent to cubes in the User-Agent header
const Product = "miyo-bridge"

const shortHashLength = 7

func init() {
	if Version == "" || Commit == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			fillFromSettings(info.Settings)
		}
	}

	if Version == "" {
		Version = fmt.Sprintf("dev-%s", time.Now().Format("20060102-150405"))
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

// fillFromSettings derives Commit and a dated dev Version from the vcs.*
// build settings
func fillFromSettings(settings []debug.BuildSetting) {
	vcs := make(map[string]string, 3)
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision", "vcs.modified", "vcs.time":
			vcs[s.Key] = s.Value
		}
	}

	if rev := vcs["vcs.revision"]; Commit == "" && rev != "" {
		if len(rev) > shortHashLength {
			rev = rev[:shortHashLength]
		}
		if vcs["vcs.modified"] == "true" {
			rev += "-dirty"
		}
		Commit = rev
	}

	if Version == "" && vcs["vcs.time"] != "" {
		if t, err := time.Parse(time.RFC3339, vcs["vcs.time"]); err == nil {
			Version = "dev-" + t.Format("20060102")
		}
	}
}

// Full returns the version followed by the commit
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

// UserAgent identifies the bridge in HTTP requests to a cube
func UserAgent() string {
	return fmt.Sprintf("%s/%s (%s/%s)", Product, Version, runtime.GOOS, runtime.GOARCH)
}
