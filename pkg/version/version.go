// Package version reports the build version used to name version-qualified
// cache directories. A version bump invalidates the cache without touching
// any existing entries under the old directory name.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Major and Minor make up the cache-directory-qualifying version. Bump
// Major or Minor when the on-disk format changes incompatibly.
const (
	Major = 1
	Minor = 0
)

var (
	Version   = fmt.Sprintf("%d.%d.0-dev", Major, Minor)
	buildInfo = debug.BuildInfo{}
)

func init() {
	if bi, ok := debug.ReadBuildInfo(); ok {
		buildInfo = *bi
		if len(bi.Main.Version) > 0 && bi.Main.Version != "(devel)" {
			Version = bi.Main.Version
		}
	}
}

// CacheDirName returns the version-qualified cache directory name,
// bkt-<major>.<minor>-cache.
func CacheDirName() string {
	return fmt.Sprintf("bkt-%d.%d-cache", Major, Minor)
}

// GetMore returns a one-line (or, with mod, multi-line) version banner for
// `bkt version`.
func GetMore(mod bool) string {
	if mod {
		m := buildInfo.String()
		if len(m) > 0 {
			return fmt.Sprintf("\t%s\n", strings.ReplaceAll(m[:len(m)-1], "\n", "\n\t"))
		}
	}
	return fmt.Sprintf("bkt version %s %s %s/%s\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
