// Package version exposes the build metadata stamped into the binary.
// Release builds set the variables with -ldflags; anything they leave
// blank is backfilled from the Go toolchain's embedded build info.
package version

import "runtime/debug"

var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildId    string
	GoVersion  string
	VCSDirty   *bool
)

// Info is the shape served by the ops listener's version endpoint and
// attached to startup logs.
type Info struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date"`
	BuildDate  string `json:"build_date"`
	BuildId    string `json:"build_id"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

// Get returns the build info for this binary.
func Get() Info {
	info := Info{
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildId:    BuildId,
		GoVersion:  GoVersion,
		VCSDirty:   VCSDirty,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}

	info.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			// ldflags win over VCS stamping
			if info.Commit == "none" && s.Value != "" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.BuildDate == "" && s.Value != "" {
				info.BuildDate = s.Value
			}
			info.CommitDate = s.Value
		case "vcs.modified":
			if d, valid := parseDirty(s.Value); valid {
				info.VCSDirty = &d
			}
		}
	}
	return info
}

func parseDirty(v string) (dirty, valid bool) {
	switch v {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}
