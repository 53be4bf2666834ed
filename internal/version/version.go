// Package version reports the llmstxt build.
//
// Release builds set the variables with ldflags:
//
//	go build -ldflags "-X git.home.luguber.info/inful/llmstxt/internal/version.Version=v0.3.0"
//
// Other builds fall back to the module and VCS data embedded by the Go
// toolchain.
package version

import (
	"runtime/debug"
	"sync"
)

const unknown = "unknown"

var (
	Version   = unknown
	GitCommit = unknown
	BuildTime = unknown
)

// Info is the resolved build description.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	Modified  bool   `json:"modified,omitempty"`
}

var (
	once     sync.Once
	resolved Info
)

// Get returns the build description. Ldflags values win over embedded
// build data.
func Get() Info {
	once.Do(func() {
		resolved = Info{Version: Version, GitCommit: GitCommit, BuildTime: BuildTime}
		if bi, ok := debug.ReadBuildInfo(); ok {
			fill(&resolved, bi)
		}
	})
	return resolved
}

func fill(info *Info, bi *debug.BuildInfo) {
	if info.Version == unknown && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == unknown {
				info.GitCommit = s.Value
			}
		case "vcs.time":
			if info.BuildTime == unknown {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
}

// String renders "version (commit, time)" with the commit shortened.
func (i Info) String() string {
	commit := i.GitCommit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if i.Modified {
		commit += "-dirty"
	}
	return i.Version + " (" + commit + ", " + i.BuildTime + ")"
}
