package bkt

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/relay-tools/bkt/internal/bkterrors"
)

const (
	cleanupLockName     = "cleanup"
	cleanupStaleAfter   = 10 * time.Minute
	cleanupRateLimit    = 30 * time.Second
	lastCleanupFileName = "last_cleanup"
	keysSubdir          = "keys"
	dataSubdir          = "data"
)

// Cache is a two-level on-disk store: a key index (symlinks) over data
// files grouped by TTL class. It is a plain value: copies share the same
// on-disk state and are safe to use from independent workers, since the
// backing state is the filesystem, not in-memory structures.
type Cache struct {
	root           string
	scope          string
	serde          Serializer
	debug          bool
	staleLockAfter time.Duration
}

// NewCache constructs a Cache rooted at root, optionally partitioned by a
// single-element scope. An empty scope means the unscoped key namespace.
// A scope containing a path separator is a ProgrammerError.
func NewCache(root, scope string) (Cache, error) {
	if scope != "" {
		if strings.ContainsAny(scope, "/\\") {
			return Cache{}, bkterrors.ProgrammerError("scope must be a single path element: " + scope)
		}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Cache{}, bkterrors.IOFailure("failed to resolve cache root", err)
	}
	return Cache{root: abs, scope: scope, serde: GobSerializer{}, staleLockAfter: cleanupStaleAfter}, nil
}

// WithStaleLockThreshold overrides the cleanup lock's stale-after duration,
// configurable via pkg/config.Settings.StaleLockThreshold.
func (c Cache) WithStaleLockThreshold(d time.Duration) Cache {
	c.staleLockAfter = d
	return c
}

// WithDebugMode switches the cache between release mode (gob serialization,
// plain hex fingerprints) and debug mode (human-readable JSON serialization,
// label-prefixed fingerprints). The two modes address disjoint key
// namespaces, so toggling it does not invalidate existing entries.
func (c Cache) WithDebugMode(enabled bool) Cache {
	c.debug = enabled
	if enabled {
		c.serde = JSONSerializer{}
	} else {
		c.serde = GobSerializer{}
	}
	return c
}

func (c Cache) keysDir() string {
	if c.scope == "" {
		return filepath.Join(c.root, keysSubdir)
	}
	return filepath.Join(c.root, keysSubdir, c.scope)
}

func (c Cache) fingerprint(d CommandDescriptor) string {
	if c.debug {
		return d.DebugCacheKey()
	}
	return d.CacheKey()
}

func (c Cache) keyPath(fingerprint string) string {
	return filepath.Join(c.keysDir(), fingerprint)
}

func (c Cache) dataDir(ttlSeconds int64) string {
	return filepath.Join(c.root, dataSubdir, strconv.FormatInt(ttlSeconds, 10))
}

func (c Cache) lastCleanupPath() string {
	return filepath.Join(c.root, lastCleanupFileName)
}

func ceilSeconds(ttl time.Duration) int64 {
	return int64(math.Ceil(ttl.Seconds()))
}

// miss logs reason at debug level and returns the zero-value "not found"
// tuple Lookup reports to its caller. The *bkterrors.Error is never
// returned itself: a clean miss is reported through the ok bool, not an
// error value, so callers never have to distinguish "not found" from other
// failures by inspecting err.
func (c Cache) miss(reason *bkterrors.Error) (InvocationRecord, time.Time, bool, error) {
	log.Debug().Str("reason", reason.Message).Msg("cache miss")
	return InvocationRecord{}, time.Time{}, false, nil
}

// Lookup returns (record, storedAt, true) on a hit, or (_, _, false) on a
// clean miss. Errors other than "not found" are surfaced.
func (c Cache) Lookup(descriptor CommandDescriptor, maxAge time.Duration) (InvocationRecord, time.Time, bool, error) {
	key := c.keyPath(c.fingerprint(descriptor))

	lst, err := os.Lstat(key)
	if err != nil {
		if os.IsNotExist(err) {
			return c.miss(bkterrors.NotFound("no key file at " + key))
		}
		return InvocationRecord{}, time.Time{}, false, bkterrors.IOFailure("failed to stat key "+key, err)
	}
	if lst.Mode()&os.ModeSymlink == 0 {
		return InvocationRecord{}, time.Time{}, false, bkterrors.CorruptCache("key file is not a symlink: "+key, nil)
	}

	info, err := os.Stat(key)
	if err != nil {
		if os.IsNotExist(err) {
			// Dangling symlink: the data file is gone (raced with a
			// cleanup sweep). Treat exactly like a miss.
			return c.miss(bkterrors.NotFound("dangling key symlink at " + key))
		}
		return InvocationRecord{}, time.Time{}, false, bkterrors.IOFailure("failed to stat cache entry for "+key, err)
	}

	storedAt := info.ModTime()
	age := time.Since(storedAt)
	if age > maxAge || age < 0 {
		if err := os.Remove(key); err != nil && !os.IsNotExist(err) {
			return InvocationRecord{}, time.Time{}, false, bkterrors.IOFailure("failed to evict stale key "+key, err)
		}
		return c.miss(bkterrors.NotFound("entry at " + key + " exceeded max age"))
	}

	raw, err := os.ReadFile(key)
	if err != nil {
		return InvocationRecord{}, time.Time{}, false, bkterrors.IOFailure("failed to read cache entry "+key, err)
	}
	plain, err := decompress(raw)
	if err != nil {
		return InvocationRecord{}, time.Time{}, false, err
	}
	record, err := c.serde.Deserialize(plain)
	if err != nil {
		return InvocationRecord{}, time.Time{}, false, err
	}

	if !record.Command.Equal(descriptor) {
		// Hash collision: a different descriptor owns this fingerprint.
		// The entry is still live for its real owner; do not evict it.
		return c.miss(bkterrors.NotFound("fingerprint collision at " + key))
	}

	return record, storedAt, true, nil
}

// Store publishes a new entry for record.Command, keyed by its fingerprint,
// under the given ttl. Collisions on the random filenames used internally
// are surfaced as errors rather than retried.
func (c Cache) Store(record InvocationRecord, ttl time.Duration) error {
	if ttl <= 0 {
		return bkterrors.ProgrammerError("store requires ttl > 0")
	}

	ttlSeconds := ceilSeconds(ttl)
	dataDir := c.dataDir(ttlSeconds)
	keysDir := c.keysDir()

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return bkterrors.IOFailure("failed to create data directory "+dataDir, err)
	}
	if err := os.MkdirAll(keysDir, 0o755); err != nil {
		return bkterrors.IOFailure("failed to create keys directory "+keysDir, err)
	}

	plain, err := c.serde.Serialize(record)
	if err != nil {
		return err
	}
	packed := compress(plain)

	dataSuffix := randomSuffix()
	dataFile := filepath.Join(dataDir, "bkt-data."+dataSuffix)
	f, err := os.OpenFile(dataFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return bkterrors.IOFailure("failed to create data file "+dataFile, err)
	}
	if _, err := f.Write(packed); err != nil {
		f.Close()
		return bkterrors.IOFailure("failed to write data file "+dataFile, err)
	}
	if err := f.Close(); err != nil {
		return bkterrors.IOFailure("failed to close data file "+dataFile, err)
	}

	symlinkSuffix := randomSuffix()
	tmpSymlink := filepath.Join(keysDir, "bkt-symlink."+symlinkSuffix)
	if err := os.Symlink(dataFile, tmpSymlink); err != nil {
		return bkterrors.IOFailure("failed to create temporary symlink "+tmpSymlink, err)
	}

	keyPath := c.keyPath(c.fingerprint(record.Command))
	if err := os.Rename(tmpSymlink, keyPath); err != nil {
		os.Remove(tmpSymlink)
		return bkterrors.IOFailure("failed to publish key "+keyPath, err)
	}

	return nil
}

// randomSuffix returns a 16-character hex-derived random token.
func randomSuffix() string {
	id := uuid.New()
	hex := strings.ReplaceAll(id.String(), "-", "")
	return hex[:16]
}

// Cleanup is the best-effort, idempotent garbage collector. It returns
// errors from acquiring the cleanup lock (including a stale lock), from
// statting or touching last_cleanup, from reading the data root, and for a
// malformed TTL directory; per-file errors during eviction are tolerated
// and logged.
func (c Cache) Cleanup() error {
	lock, err := TryAcquire(c.root, cleanupLockName, c.staleLockAfter)
	if err != nil {
		return err
	}
	if lock == nil {
		return nil
	}
	defer lock.Release()

	lastCleanup := c.lastCleanupPath()
	if info, err := os.Stat(lastCleanup); err == nil {
		if time.Since(info.ModTime()) < cleanupRateLimit {
			return nil
		}
	} else if !os.IsNotExist(err) {
		return bkterrors.IOFailure("failed to stat "+lastCleanup, err)
	}

	if err := touch(lastCleanup); err != nil {
		return bkterrors.IOFailure("failed to touch "+lastCleanup, err)
	}

	if err := c.cleanupPhaseA(); err != nil {
		return err
	}
	c.cleanupPhaseB()

	return nil
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	f.Close()
	now := time.Now()
	return os.Chtimes(path, now, now)
}

// cleanupPhaseA evicts data files whose age exceeds their TTL class.
func (c Cache) cleanupPhaseA() error {
	dataRoot := filepath.Join(c.root, dataSubdir)
	entries, err := os.ReadDir(dataRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return bkterrors.IOFailure("failed to read data root "+dataRoot, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ttlSeconds, err := strconv.ParseInt(entry.Name(), 10, 64)
		if err != nil {
			return bkterrors.CorruptCache("malformed TTL directory name: "+entry.Name(), err)
		}

		dir := filepath.Join(dataRoot, entry.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			log.Debug().Err(err).Str("dir", dir).Msg("failed to read TTL directory during cleanup")
			continue
		}

		deadline := time.Duration(ttlSeconds) * time.Second
		for _, file := range files {
			info, err := file.Info()
			if err != nil {
				continue
			}
			if time.Since(info.ModTime()) > deadline {
				path := filepath.Join(dir, file.Name())
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					log.Debug().Err(err).Str("path", path).Msg("failed to evict stale data file")
				}
			}
		}
	}

	return nil
}

// cleanupPhaseB removes dangling symlinks from the scoped keys directory
// only; other scopes' dangling keys are cleaned when those scopes run
// cleanup themselves.
func (c Cache) cleanupPhaseB() {
	dir := c.keysDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Debug().Err(err).Str("dir", dir).Msg("failed to read keys directory during cleanup")
		}
		return
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(path); err != nil && os.IsNotExist(err) {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Debug().Err(rmErr).Str("path", path).Msg("failed to remove dangling key")
			}
		}
	}
}
