// Package version queries the Go build info embedded by the toolchain for
// VCS metadata, the way go-ethereum's internal/version package does, so
// cmd/shardnode/config.go can stamp a precise node name/version without a
// separate build-time ldflags step.
package version

import "runtime/debug"

// Info is the VCS metadata recovered from the binary's embedded build info.
type Info struct {
	Commit string // Git SHA1 of the built commit, if known
	Date   string // Date of the build, RFC3339, if known
	Dirty  bool   // Whether the working tree had local modifications
}

// VCS returns VCS metadata of the build, and false if it is not available.
// Note that if the binary was not built with a vcs tool (e.g. built via
// `go install` outside of a repository), the VCS information will be empty.
func VCS() (Info, bool) {
	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		var info Info
		var vcs bool
		for _, v := range buildInfo.Settings {
			switch v.Key {
			case "vcs":
				vcs = true
			case "vcs.revision":
				info.Commit = v.Value
			case "vcs.modified":
				info.Dirty = v.Value == "true"
			case "vcs.time":
				info.Date = v.Value
			}
		}
		return info, vcs
	}
	return Info{}, false
}
