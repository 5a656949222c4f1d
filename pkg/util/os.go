// Package util holds small OS-facing helpers used by cmd/bkt.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rs/zerolog/log"
)

// DefaultWorkDir returns bkt's default config/state directory,
// ~/.bkt on Unix-likes and %USERPROFILE%\bkt on Windows.
func DefaultWorkDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.ExpandEnv("${USERPROFILE}"), "bkt")
	default:
		return filepath.Join(os.ExpandEnv("${HOME}"), ".bkt")
	}
}

// ByteCountSI renders a byte count in decimal (SI) units, for `bkt stats`
// and any future size reporting.
func ByteCountSI(b int64) string {
	const unit = 1000
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "kMGTPE"[exp])
}

// PrepareDir ensures path exists as a directory, creating it if absent.
func PrepareDir(path string) error {
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(path, 0o755)
		}
		return err
	}
	if !stat.IsDir() {
		log.Debug().Msgf("%s is not a directory", path)
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}
