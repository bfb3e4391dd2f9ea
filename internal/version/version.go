package version

import (
	"fmt"
	"runtime"
)

// These variables are set at build time using ldflags:
//
//	-X github.com/fieldtriage/fieldtriage/internal/version.Version=1.0.0
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Info is the build metadata reported by the version command and the
// status API
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// Get returns the build metadata
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
}

func (i Info) String() string {
	if i.Version == "dev" {
		return fmt.Sprintf("fieldtriage dev (commit: %s, %s)", i.Commit, i.GoVersion)
	}
	return fmt.Sprintf("fieldtriage %s (commit: %s, built %s, %s)", i.Version, i.Commit, i.BuildDate, i.GoVersion)
}
