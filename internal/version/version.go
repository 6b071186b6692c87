// Package version carries build metadata and a per-process instance
// identity. Release builds stamp the values in with -ldflags; plain
// `go build` binaries fall back to the VCS data the toolchain embeds.
package version

import (
	"fmt"
	"os"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const unknown = "unknown"

// Set via: -ldflags "-X apicore/internal/version.Version=... -X apicore/internal/version.GitCommit=..."
var (
	Version   = unknown
	BuildDate = unknown
	GitCommit = unknown
)

// Info identifies the running binary and process.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo returns the process identity. It is computed once.
func GetInfo() Info {
	once.Do(func() {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = unknown
		}
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			InstanceID: uuid.New().String(),
			Hostname:   hostname,
		}
		if bi, ok := debug.ReadBuildInfo(); ok {
			info = fromBuildInfo(info, bi)
		}
	})
	return info
}

// fromBuildInfo fills fields left unknown by -ldflags from the module and
// VCS settings recorded by the toolchain.
func fromBuildInfo(i Info, bi *debug.BuildInfo) Info {
	if i.Version == unknown && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		i.Version = bi.Main.Version
	}

	var fromVCS, modified bool
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if i.GitCommit == unknown && s.Value != "" {
				i.GitCommit = s.Value[:min(len(s.Value), 12)]
				fromVCS = true
			}
		case "vcs.time":
			if i.BuildDate == unknown && s.Value != "" {
				i.BuildDate = s.Value
			}
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	if fromVCS && modified {
		i.GitCommit += "-dirty"
	}
	return i
}

// MarshalZerologObject adds the build fields to a log event or context.
func (i Info) MarshalZerologObject(e *zerolog.Event) {
	e.Str("version", i.Version).
		Str("git_commit", i.GitCommit).
		Str("build_date", i.BuildDate).
		Str("instance_id", i.InstanceID)
}

func (i Info) String() string {
	return fmt.Sprintf("apicore %s (commit: %s, built: %s)", i.Version, i.GitCommit, i.BuildDate)
}
