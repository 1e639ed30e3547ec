// Package version reports how the locussync binary was built and names it
// to the locus service.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/teranos/locussync/version.Version=...".
// Unset values fall back to the VCS stamp of the Go build.
var (
	Version    = ""
	CommitHash = ""
	BuildTime  = ""
)

const unknown = "unknown"

// Info describes the running binary.
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	Modified   bool   `json:"modified,omitempty"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// Get merges the ldflags values with the build's VCS settings.
func Get() Info {
	info := Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.fromBuildInfo(bi)
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	if info.CommitHash == "" {
		info.CommitHash = unknown
	}
	if info.BuildTime == "" {
		info.BuildTime = unknown
	}
	return info
}

func (i *Info) fromBuildInfo(bi *debug.BuildInfo) {
	if i.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		i.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if i.CommitHash == "" {
				i.CommitHash = s.Value
			}
		case "vcs.time":
			if i.BuildTime == "" {
				i.BuildTime = s.Value
			}
		case "vcs.modified":
			i.Modified = s.Value == "true"
		}
	}
}

// Short returns the abbreviated commit.
func (i Info) Short() string {
	if len(i.CommitHash) > 7 && i.CommitHash != unknown {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}

func (i Info) String() string {
	commit := i.Short()
	if i.Modified {
		commit += "+dirty"
	}
	return fmt.Sprintf("locussync %s (commit %s, built %s)", i.Version, commit, i.BuildTime)
}

// UserAgent is sent with every locus request and feed dial.
func (i Info) UserAgent() string {
	return fmt.Sprintf("locussync/%s (%s; %s)", i.Version, i.Platform, i.Short())
}
