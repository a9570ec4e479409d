package version

import (
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
)

// Version values are set at build time using -ldflags.
var Version = "dev"
var Major = "0"
var Minor = "0"
var Patch = "0"
var Built = ""
var GitCommit = ""

type VersionInfo struct {
	Version   string `json:"version"`
	Major     int    `json:"major"`
	Minor     int    `json:"minor"`
	Patch     int    `json:"patch"`
	Built     string `json:"built"`
	GitCommit string `json:"git_commit,omitempty"`
	GoVersion string `json:"go_version"`
}

func GetVersionInfo() VersionInfo {
	info := VersionInfo{
		Version:   Version,
		Major:     parseInt(Major),
		Minor:     parseInt(Minor),
		Patch:     parseInt(Patch),
		Built:     Built,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
	}
	if info.GitCommit == "" {
		info.GitCommit = vcsRevision()
	}
	return info
}

// String renders "hotlib <version> (<commit>, <built>, <go>)" omitting empty parts.
func (v VersionInfo) String() string {
	details := make([]string, 0, 3)
	if v.GitCommit != "" {
		details = append(details, v.GitCommit)
	}
	if v.Built != "" {
		details = append(details, v.Built)
	}
	if v.GoVersion != "" {
		details = append(details, v.GoVersion)
	}
	if len(details) == 0 {
		return "hotlib " + v.Version
	}
	return "hotlib " + v.Version + " (" + strings.Join(details, ", ") + ")"
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			if len(setting.Value) > 12 {
				return setting.Value[:12]
			}
			return setting.Value
		}
	}
	return ""
}

func parseInt(value string) int {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return parsed
}
