// Package version exposes the build identity stamped into the ixado binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Stamped at release time, e.g.
//
//	go build -ldflags "-X github.com/ixado/ixado/internal/version.Version=v1.2.3"
//
// with Commit and BuildDate set alongside. A binary built without stamping
// falls back to the VCS metadata the Go toolchain embeds, so `go install`
// builds still report a usable commit.
var (
	Version   = "dev"
	Commit    = ""
	BuildDate = ""
)

// Short returns just the version tag, as used for cobra's --version flag.
func Short() string {
	return Version
}

// Info renders the one-line identity: version, short commit, build date,
// toolchain.
func Info() string {
	return fmt.Sprintf("ixado %s (commit: %s, built: %s, go: %s)",
		Version, shortCommit(), buildDate(), runtime.Version())
}

// Full renders the multi-line report printed by `ixado version`.
func Full() string {
	return fmt.Sprintf(`ixado %s
  Commit:     %s
  Built:      %s
  Go version: %s
  OS/Arch:    %s/%s`,
		Version, commit(), buildDate(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func commit() string {
	if Commit != "" {
		return Commit
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		var rev string
		var dirty bool
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				rev = s.Value
			case "vcs.modified":
				dirty = s.Value == "true"
			}
		}
		if rev != "" {
			if dirty {
				return rev + "-dirty"
			}
			return rev
		}
	}
	return "unknown"
}

func shortCommit() string {
	c := commit()
	if len(c) > 7 {
		return c[:7]
	}
	return c
}

func buildDate() string {
	if BuildDate != "" {
		return BuildDate
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.time" {
				return s.Value
			}
		}
	}
	return "unknown"
}
