// Package version reports the build identity of the sechannel binaries.
package version

import (
	"runtime/debug"
	"strings"
)

// Set with -ldflags "-X github.com/floegence/sechannel/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Date    string `json:"date,omitempty"`
}

// Current returns the linked-in values, filled from module build info where
// they were not injected.
func Current() Info {
	return resolve(Version, Commit, Date, readBuildInfo)
}

func readBuildInfo() (*debug.BuildInfo, bool) { return debug.ReadBuildInfo() }

func resolve(v, c, d string, read func() (*debug.BuildInfo, bool)) Info {
	in := Info{Version: clean(v, "dev", "(devel)"), Commit: clean(c, "unknown"), Date: clean(d, "unknown")}
	if info, ok := read(); ok && info != nil {
		if in.Version == "" {
			if mv := clean(info.Main.Version, "(devel)"); mv != "" {
				in.Version = mv
			}
		}
		for _, s := range info.Settings {
			switch {
			case s.Key == "vcs.revision" && in.Commit == "":
				in.Commit = s.Value
			case s.Key == "vcs.time" && in.Date == "":
				in.Date = s.Value
			}
		}
	}
	if in.Version == "" {
		in.Version = "dev"
	}
	return in
}

// clean trims s and maps placeholder values to "".
func clean(s string, placeholders ...string) string {
	s = strings.TrimSpace(s)
	for _, p := range placeholders {
		if s == p {
			return ""
		}
	}
	return s
}

func (i Info) String() string {
	out := i.Version
	if i.Commit != "" {
		out += " (" + i.Commit + ")"
	}
	if i.Date != "" {
		out += " " + i.Date
	}
	return out
}
