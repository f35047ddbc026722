// Package version reports build information for the pulsestore binary.
package version

import (
	"fmt"
	"runtime"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/pulsestore/pulse/schedule"
)

// Build information, set at build time via ldflags:
//
//	-X github.com/teranos/pulsestore/internal/version.Version=v0.3.1
var (
	CommitHash = "dev"
	BuildTime  = "unknown"
	Version    = "dev"
)

// Info contains version and build information
type Info struct {
	Version           string `json:"version"`
	CommitHash        string `json:"commit_hash"`
	BuildTime         string `json:"build_time"`
	DefinitionVersion string `json:"definition_version"` // job definition schema written by this build
	GoVersion         string `json:"go_version"`
	Platform          string `json:"platform"`
}

// Get returns the current version information
func Get() Info {
	return Info{
		Version:           Version,
		CommitHash:        CommitHash,
		BuildTime:         BuildTime,
		DefinitionVersion: schedule.CurrentDefinitionVersion,
		GoVersion:         runtime.Version(),
		Platform:          fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// Semver parses Version. Development builds return an error.
func (i Info) Semver() (*semver.Version, error) {
	return semver.NewVersion(i.Version)
}

// String returns a human-readable version string
func (i Info) String() string {
	if v, err := i.Semver(); err == nil {
		return fmt.Sprintf("pulsestore v%s (commit %s, built %s)", v, i.Short(), i.BuildTime)
	}
	return fmt.Sprintf("pulsestore %s (commit %s, built %s)", i.Version, i.Short(), i.BuildTime)
}

// Short returns the abbreviated commit hash
func (i Info) Short() string {
	if len(i.CommitHash) >= 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}
