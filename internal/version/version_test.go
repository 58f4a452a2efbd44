package version

import (
	"runtime/debug"
	"testing"
)

func TestFromBuildInfo(t *testing.T) {
	oldV, oldC := Version, Commit
	defer func() { Version, Commit = oldV, oldC }()

	Version, Commit = "", ""
	fromBuildInfo(&debug.BuildInfo{
		Main: debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.modified", Value: "true"},
			{Key: "vcs.time", Value: "2026-03-04T10:00:00Z"},
		},
	}, true)

	if Commit != "0123456-dirty" {
		t.Errorf("Commit = %q, want 0123456-dirty", Commit)
	}
	if Version != "dev-20260304" {
		t.Errorf("Version = %q, want dev-20260304", Version)
	}
}

func TestAgent(t *testing.T) {
	oldV := Version
	defer func() { Version = oldV }()
	Version = "v1.0.0"
	if got := Agent("logrelay-server"); got != "logrelay-server/v1.0.0" {
		t.Errorf("Agent() = %q", got)
	}
}
