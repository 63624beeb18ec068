// Package version carries build-time version metadata, set via -ldflags.
package version

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/blang/semver/v4"
)

var (
	gitVersion   = "unknown"
	gitCommit    = "unknown" // sha1 from git, output of $(git rev-parse HEAD)
	gitTreeState = "unknown" // state of git tree, either "clean" or "dirty"
	commitDate   = "unknown" // build date in ISO8601 format, output of $(date -u +'%Y-%m-%dT%H:%M:%SZ')
)

// Info describes the running build.
type Info struct {
	GitVersion   string `json:"gitVersion"`
	GitCommit    string `json:"gitCommit"`
	GitTreeState string `json:"gitTreeState"`
	BuildDate    string `json:"buildDate"`
	GoVersion    string `json:"goVersion"`
	Compiler     string `json:"compiler"`
	Platform     string `json:"platform"`
	Major        string `json:"major,omitempty"`
	Minor        string `json:"minor,omitempty"`
}

// Get returns the version struct for the current build.
func Get() Info {
	info := Info{
		GitVersion:   gitVersion,
		GitCommit:    gitCommit,
		GitTreeState: gitTreeState,
		BuildDate:    commitDate,
		GoVersion:    runtime.Version(),
		Compiler:     runtime.Compiler,
		Platform:     fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	if v, err := semver.Parse(strings.TrimPrefix(gitVersion, "v")); err == nil {
		info.Major = fmt.Sprintf("%d", v.Major)
		info.Minor = fmt.Sprintf("%d", v.Minor)
	}
	return info
}

func (i Info) String() string { return i.GitVersion }
