package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

var (
	// These can be set at build time with -ldflags:
	// -X github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/version.Version=vX.Y.Z
	// -X github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/version.Commit=<sha>
	// -X github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/version.Date=<rfc3339>
	Version = "dev"
	Commit  = ""
	Date    = ""
)

type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Date    string `json:"date,omitempty"`
}

func Current() Info {
	info := Info{
		Version: strings.TrimSpace(Version),
		Commit:  strings.TrimSpace(Commit),
		Date:    strings.TrimSpace(Date),
	}
	if info.Version == "" {
		info.Version = "dev"
	}

	// Fallback to embedded VCS info when ldflags are not provided.
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = strings.TrimSpace(s.Value)
				}
			case "vcs.time":
				if info.Date == "" {
					info.Date = strings.TrimSpace(s.Value)
				}
			}
		}
	}
	return info
}

func String() string {
	v := Current()
	parts := []string{v.Version}
	if v.Commit != "" {
		short := v.Commit
		if len(short) > 12 {
			short = short[:12]
		}
		parts = append(parts, short)
	}
	return strings.Join(parts, "+")
}

func Detailed() string {
	v := Current()
	out := fmt.Sprintf("claudedash %s", String())
	if v.Date != "" {
		out += "\nBuilt: " + v.Date
	}
	return out
}
