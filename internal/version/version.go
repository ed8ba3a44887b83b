// Package version provides build version information for the motor-proxy binary.
//
//	go build -ldflags "-X github.com/jmylchreest/motor-proxy/internal/version.Version=1.2.0"
package version

import (
	"fmt"
	"runtime"
)

// Build-time variables (set via ldflags)
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info contains version information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// Get returns the current version info.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String returns the long form printed by `motor-proxy version`.
func (i Info) String() string {
	return fmt.Sprintf("motor-proxy %s (%s) built %s %s %s", i.Version, i.Commit, i.Date, i.GoVersion, i.Platform)
}
