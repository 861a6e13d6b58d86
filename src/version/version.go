package version

import (
	"runtime"
	"runtime/debug"
)

// Set at link time, e.g. -ldflags "-X signalbot/src/version.Version=v1.2.0".
var (
	Commit         = "unknown"
	Version        = "unknown"
	BuildTimestamp = "unknown"
)

// GetBuildInfo merges the VCS settings stamped by the go toolchain with the
// link-time values above.
func GetBuildInfo() map[string]string {
	data := map[string]string{
		"go_version": runtime.Version(),
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		data["module"] = bi.Main.Path
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision", "vcs.time", "vcs.modified", "GOOS", "GOARCH":
				data[s.Key] = s.Value
			}
		}
	}

	data["commit"] = Commit
	data["version"] = Version
	data["build_timestamp"] = BuildTimestamp

	return data
}
