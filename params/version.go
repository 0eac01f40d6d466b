package params

import "fmt"

// Version components, in the params.VersionMajor/Minor/Patch
// scheme (go-ethereum's params/version.go) rather than a single opaque string,
// so cmd/shardnode can report and compare versions the same way geth does.
const (
	VersionMajor = 0         // Major version component of the current release
	VersionMinor = 1         // Minor version component of the current release
	VersionPatch = 0         // Patch version component of the current release
	VersionMeta  = "unstable" // Version metadata to append to the version string
)

// Version holds the textual version string for the current release.
func Version() string {
	return fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionPatch)
}

// VersionWithMeta holds the textual version string including the metadata.
func VersionWithMeta() string {
	v := Version()
	if VersionMeta != "" {
		v += "-" + VersionMeta
	}
	return v
}

// VersionWithCommit appends the git commit hash and date to VersionWithMeta,
// used by cmd/shardnode/config.go to stamp the node's advertised name the
// same way a node.Config version string is assembled.
func VersionWithCommit(gitCommit, gitDate string) string {
	vsn := VersionWithMeta()
	if len(gitCommit) >= 8 {
		vsn += "-" + gitCommit[:8]
	}
	if (VersionMeta != "stable") && (gitDate != "") {
		vsn += "-" + gitDate
	}
	return vsn
}
