package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromBuildInfo(t *testing.T) {
	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v1.2.3"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2026-10-01T12:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	var info Info
	info.fromBuildInfo(bi)
	assert.Equal(t, "v1.2.3", info.Version)
	assert.Equal(t, "0123456789abcdef", info.CommitHash)
	assert.Equal(t, "2026-10-01T12:00:00Z", info.BuildTime)
	assert.True(t, info.Modified)
	assert.Equal(t, "locussync v1.2.3 (commit 0123456+dirty, built 2026-10-01T12:00:00Z)", info.String())
}

func TestFromBuildInfo_LdflagsWin(t *testing.T) {
	info := Info{Version: "v2.0.0", CommitHash: "feedface"}
	info.fromBuildInfo(&debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789abcdef"}},
	})
	assert.Equal(t, "v2.0.0", info.Version)
	assert.Equal(t, "feedface", info.CommitHash)
}

func TestGet_Defaults(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.CommitHash)
	assert.NotEmpty(t, info.BuildTime)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.UserAgent(), "locussync/"+info.Version)
}

func TestShort(t *testing.T) {
	assert.Equal(t, "unknown", Info{CommitHash: "unknown"}.Short())
	assert.Equal(t, "abc", Info{CommitHash: "abc"}.Short())
	assert.Equal(t, "0123456", Info{CommitHash: "0123456789"}.Short())
}
