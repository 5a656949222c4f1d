package bkt

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/relay-tools/bkt/internal/bkterrors"
)

// FileLock is an advisory, process-cooperative single-holder lock realized
// as an exclusively-created file under a directory. It protects against
// well-behaved concurrent cleanup workers only, never against uncooperative
// processes.
type FileLock struct {
	path string
}

// TryAcquire attempts to create <dir>/<name>.lock with exclusive-create
// semantics. On success it writes the acquiring process's pid into the file
// and returns a held lock. If the file already exists and is younger than
// staleThreshold, it returns (nil, nil): "not acquired," the lock is held
// by someone else. If the file is older than staleThreshold, it returns a
// StaleLock error naming the holding pid (and, via a gopsutil liveness
// check, whether that pid is still running) and advising manual deletion.
func TryAcquire(dir, name string, staleThreshold time.Duration) (*FileLock, error) {
	path := filepath.Join(dir, name+".lock")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		defer f.Close()
		fmt.Fprintf(f, "%d", os.Getpid())
		return &FileLock{path: path}, nil
	}
	if !os.IsExist(err) {
		return nil, bkterrors.IOFailure("failed to create lock file "+path, err)
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			// Raced with the holder's release; treat as not acquired.
			return nil, nil
		}
		return nil, bkterrors.IOFailure("failed to stat lock file "+path, statErr)
	}

	if time.Since(info.ModTime()) <= staleThreshold {
		return nil, nil
	}

	pid := readLockPid(path)
	return nil, bkterrors.StaleLock(staleLockMessage(path, pid))
}

func readLockPid(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	return string(b)
}

func staleLockMessage(path, pidText string) string {
	pid, err := strconv.Atoi(pidText)
	if err != nil {
		return fmt.Sprintf("lock file %s is stale (holder pid unreadable); delete it manually", path)
	}

	running := "no longer running"
	if p, err := process.NewProcess(int32(pid)); err == nil {
		if ok, _ := p.IsRunning(); ok {
			running = "still running, investigate before deleting"
		}
	}

	return fmt.Sprintf("lock file %s is stale (holder pid %d, %s); delete it manually", path, pid, running)
}

// Release removes the lock file. Failure is logged, not returned; the lock
// will eventually appear stale to other workers.
func (l *FileLock) Release() {
	if l == nil {
		return
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		log.Debug().Err(err).Str("path", l.path).Msg("failed to remove lock file")
	}
}
