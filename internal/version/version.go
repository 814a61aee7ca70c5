// Package version provides build-time metadata for the assetpipe binary.
// Version, GitCommit, and BuildDate are injected at compile time via -ldflags.
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// DevVersion is reported by binaries built without -ldflags.
const DevVersion = "dev"

// Build-time values injected via -ldflags.
var (
	version   = DevVersion
	gitCommit = "none"
	buildDate = "unknown"
)

// Info holds the build metadata for the binary.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// GetInfo returns the current build information.
func GetInfo() Info {
	return Info{
		Version:   version,
		GitCommit: shortCommit(gitCommit),
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String returns a human-readable single-line version string.
func (i Info) String() string {
	return fmt.Sprintf("assetpipe %s (commit: %s, built: %s, %s %s)",
		i.Version, i.GitCommit, i.BuildDate, i.GoVersion, i.Platform)
}

// JSON returns the version info as indented JSON.
func (i Info) JSON() (string, error) {
	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling version info: %w", err)
	}

	return string(data), nil
}

// IsDev reports whether the binary carries no release version.
func (i Info) IsDev() bool {
	return i.Version == DevVersion || i.Version == ""
}

// Satisfies checks the binary version against a semver constraint such as
// ">= 0.3.0". Development builds satisfy every constraint.
func (i Info) Satisfies(constraint string) (bool, error) {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" || i.IsDev() {
		return true, nil
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("parsing version constraint %q: %w", constraint, err)
	}

	v, err := semver.NewVersion(i.Version)
	if err != nil {
		return false, fmt.Errorf("parsing binary version %q: %w", i.Version, err)
	}

	return c.Check(v), nil
}

// shortCommit truncates a commit SHA to 7 characters.
func shortCommit(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}

	return commit
}
