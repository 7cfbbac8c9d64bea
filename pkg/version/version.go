// Package version reports build information for the binary and the
// User-Agent sent to Cursor.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

const appName = "cursor-usage-tracker"

// Overridden with -ldflags, e.g.
// -X github.com/Viaszx/cursor-usage-tracker/pkg/version.Version=v0.3.1
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
	Dirty   = ""
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Date      string `json:"date,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
	GoVersion string `json:"goVersion"`
}

// Current merges ldflags values with the VCS stamps of the build. ldflags
// win when both are set.
func Current() Info {
	info := Info{
		Version:   orDefault(Version, "dev"),
		Commit:    strings.TrimSpace(Commit),
		Date:      strings.TrimSpace(Date),
		Dirty:     isTrue(Dirty),
		GoVersion: runtime.Version(),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		applyBuildSettings(&info, bi.Settings)
	}
	return info
}

func applyBuildSettings(info *Info, settings []debug.BuildSetting) {
	for _, s := range settings {
		v := strings.TrimSpace(s.Value)
		switch s.Key {
		case "vcs.revision":
			info.Commit = orDefault(info.Commit, v)
		case "vcs.time":
			info.Date = orDefault(info.Date, v)
		case "vcs.modified":
			info.Dirty = info.Dirty || isTrue(v)
		}
	}
}

// ShortCommit is the first 12 characters of the commit hash.
func (i Info) ShortCommit() string {
	if len(i.Commit) > 12 {
		return i.Commit[:12]
	}
	return i.Commit
}

// String renders "version+commit+dirty", omitting missing parts.
func (i Info) String() string {
	s := i.Version
	if c := i.ShortCommit(); c != "" {
		s += "+" + c
	}
	if i.Dirty {
		s += "+dirty"
	}
	return s
}

func String() string {
	return Current().String()
}

// UserAgent is sent on every vendor request.
func UserAgent() string {
	return appName + "/" + String()
}

// Detailed is the multi-line output of the version command.
func Detailed(component string) string {
	info := Current()
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", orDefault(component, appName), info.String())
	if info.Date != "" {
		fmt.Fprintf(&b, "built:  %s\n", info.Date)
	}
	fmt.Fprintf(&b, "go:     %s %s/%s", info.GoVersion, runtime.GOOS, runtime.GOARCH)
	return b.String()
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

func isTrue(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}
