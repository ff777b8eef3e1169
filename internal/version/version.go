// Package version provides information about the running binary.
package version

import (
	"runtime/debug"
	"sync"
)

// Version returns the version of the running binary, derived from build
// information embedded by the Go toolchain.
var Version = sync.OnceValue(func() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "devel"
	}
	if info.Main.Version == "" || info.Main.Version == "(devel)" {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 8 {
				return s.Value[:8]
			}
		}
		return "devel"
	}
	return info.Main.Version
})

// UserAgent returns the User-Agent string used for outgoing HTTP requests.
func UserAgent() string { return "macrolog/" + Version() }
