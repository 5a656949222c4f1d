package bkt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestCache(t *testing.T, scope string) Cache {
	t.Helper()
	c, err := NewCache(t.TempDir(), scope)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	return c
}

func testRecord(d CommandDescriptor) InvocationRecord {
	return InvocationRecord{
		Command:  d,
		Stdout:   []byte("out"),
		ExitCode: 0,
		Duration: time.Millisecond,
		Label:    d.Label(),
	}
}

func ageFile(t *testing.T, path string, by time.Duration) {
	t.Helper()
	past := time.Now().Add(-by)
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		t.Fatalf("EvalSymlinks(%s) error = %v", path, err)
	}
	if err := os.Chtimes(target, past, past); err != nil {
		t.Fatalf("Chtimes(%s) error = %v", target, err)
	}
}

func TestCacheStoreLookupRoundTrip(t *testing.T) {
	c := newTestCache(t, "")
	d := FromArgs([]string{"echo", "hi"})
	record := testRecord(d)

	if err := c.Store(record, 5*time.Second); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	got, _, ok, err := c.Lookup(d, time.Minute)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if !got.Equal(record) {
		t.Fatalf("Lookup() = %+v, want %+v", got, record)
	}
}

func TestCacheLookupMiss(t *testing.T) {
	c := newTestCache(t, "")
	_, _, ok, err := c.Lookup(FromArgs([]string{"nope"}), time.Minute)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if ok {
		t.Fatal("expected a cache miss on an empty cache")
	}
}

func TestCacheStoreRequiresPositiveTTL(t *testing.T) {
	c := newTestCache(t, "")
	err := c.Store(testRecord(FromArgs([]string{"echo"})), 0)
	if err == nil {
		t.Fatal("expected Store() with ttl=0 to fail")
	}
}

func TestCacheScopeIsolation(t *testing.T) {
	root := t.TempDir()
	unscoped, err := NewCache(root, "")
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	scoped, err := NewCache(root, "s")
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	d := FromArgs([]string{"echo", "hi"})
	recordA := testRecord(d)
	recordB := InvocationRecord{Command: d, Stdout: []byte("scoped-out"), Label: d.Label()}

	if err := unscoped.Store(recordA, time.Minute); err != nil {
		t.Fatalf("Store(unscoped) error = %v", err)
	}
	if err := scoped.Store(recordB, time.Minute); err != nil {
		t.Fatalf("Store(scoped) error = %v", err)
	}

	gotA, _, ok, err := unscoped.Lookup(d, time.Minute)
	if err != nil || !ok {
		t.Fatalf("Lookup(unscoped) = ok=%v err=%v", ok, err)
	}
	if !gotA.Equal(recordA) {
		t.Fatalf("Lookup(unscoped) = %+v, want %+v", gotA, recordA)
	}

	gotB, _, ok, err := scoped.Lookup(d, time.Minute)
	if err != nil || !ok {
		t.Fatalf("Lookup(scoped) = ok=%v err=%v", ok, err)
	}
	if !gotB.Equal(recordB) {
		t.Fatalf("Lookup(scoped) = %+v, want %+v", gotB, recordB)
	}
}

func TestCacheEvictionLaws(t *testing.T) {
	c := newTestCache(t, "")
	d := FromArgs([]string{"echo", "hi"})
	record := testRecord(d)

	if err := c.Store(record, 5*time.Second); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	ageFile(t, c.keyPath(d.CacheKey()), 15*time.Second)

	// TTL at lookup time is what matters: a 20s max-age window still
	// covers an entry aged 15s past a 5s store TTL.
	if _, _, ok, err := c.Lookup(d, 20*time.Second); err != nil || !ok {
		t.Fatalf("expected a hit with max_age=20s, got ok=%v err=%v", ok, err)
	}

	// A 10s window does not cover it: proactive eviction on this lookup.
	if _, _, ok, err := c.Lookup(d, 10*time.Second); err != nil || ok {
		t.Fatalf("expected a miss with max_age=10s, got ok=%v err=%v", ok, err)
	}

	// The entry is now gone even under a window that previously covered it.
	if _, _, ok, err := c.Lookup(d, 20*time.Second); err != nil || ok {
		t.Fatalf("expected entry to remain evicted, got ok=%v err=%v", ok, err)
	}
}

func TestCacheCleanupScenario(t *testing.T) {
	c := newTestCache(t, "")
	d := FromArgs([]string{"echo", "hi"})
	record := testRecord(d)

	if err := c.Store(record, 5*time.Second); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	ageFile(t, c.keyPath(d.CacheKey()), 10*time.Second)

	if err := c.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}

	var files []string
	if err := filepath.Walk(c.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			rel, relErr := filepath.Rel(c.root, path)
			if relErr != nil {
				return relErr
			}
			files = append(files, rel)
		}
		return nil
	}); err != nil {
		t.Fatalf("Walk(root) error = %v", err)
	}
	if len(files) != 1 || files[0] != lastCleanupFileName {
		t.Fatalf("cache root after cleanup contains files %v, want only %q", files, lastCleanupFileName)
	}

	if _, _, ok, err := c.Lookup(d, time.Minute); err != nil || ok {
		t.Fatalf("expected a miss after cleanup, got ok=%v err=%v", ok, err)
	}
}

func TestCacheCleanupIsRateLimited(t *testing.T) {
	c := newTestCache(t, "")
	if err := c.Cleanup(); err != nil {
		t.Fatalf("first Cleanup() error = %v", err)
	}
	info1, err := os.Stat(c.lastCleanupPath())
	if err != nil {
		t.Fatalf("Stat(last_cleanup) error = %v", err)
	}

	if err := c.Cleanup(); err != nil {
		t.Fatalf("second Cleanup() error = %v", err)
	}
	info2, err := os.Stat(c.lastCleanupPath())
	if err != nil {
		t.Fatalf("Stat(last_cleanup) error = %v", err)
	}

	if !info1.ModTime().Equal(info2.ModTime()) {
		t.Fatal("second Cleanup() within the rate-limit window should not have touched last_cleanup")
	}
}

func TestCacheCollisionDetectedMiss(t *testing.T) {
	c := newTestCache(t, "")
	real := FromArgs([]string{"echo", "real"})
	other := FromArgs([]string{"echo", "other"})
	record := testRecord(real)

	if err := c.Store(record, time.Minute); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	// Force a same-fingerprint lookup using a data file whose stored
	// descriptor ("real") differs from the query descriptor ("other"),
	// simulating a fingerprint collision without relying on the hash
	// function actually colliding.
	key := c.keyPath(real.CacheKey())
	target, err := filepath.EvalSymlinks(key)
	if err != nil {
		t.Fatalf("EvalSymlinks() error = %v", err)
	}

	collidingKey := c.keyPath(other.CacheKey())
	if err := os.MkdirAll(filepath.Dir(collidingKey), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.Symlink(target, collidingKey); err != nil {
		t.Fatalf("Symlink() error = %v", err)
	}

	_, _, ok, err := c.Lookup(other, time.Minute)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if ok {
		t.Fatal("expected a collision-detected miss")
	}

	// The real owner's entry must not have been evicted.
	got, _, ok, err := c.Lookup(real, time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected the real owner's entry to remain, ok=%v err=%v", ok, err)
	}
	if !got.Equal(record) {
		t.Fatalf("real owner's entry changed: got %+v, want %+v", got, record)
	}
}

func TestCacheDebugModeUsesDistinctNamespace(t *testing.T) {
	release := newTestCache(t, "")
	debug := release.WithDebugMode(true)

	d := FromArgs([]string{"echo", "hi"})
	record := testRecord(d)

	if err := debug.Store(record, time.Minute); err != nil {
		t.Fatalf("Store(debug) error = %v", err)
	}

	// The release-mode cache must not see the debug-mode entry: they key
	// the same descriptor under different fingerprint formats.
	if _, _, ok, err := release.Lookup(d, time.Minute); err != nil || ok {
		t.Fatalf("release Lookup() after debug Store() = ok=%v err=%v, want a miss", ok, err)
	}

	got, _, ok, err := debug.Lookup(d, time.Minute)
	if err != nil || !ok {
		t.Fatalf("debug Lookup() = ok=%v err=%v", ok, err)
	}
	if !got.Equal(record) {
		t.Fatalf("debug Lookup() = %+v, want %+v", got, record)
	}

	entries, err := os.ReadDir(debug.keysDir())
	if err != nil {
		t.Fatalf("ReadDir(keysDir) error = %v", err)
	}
	if len(entries) != 1 || !strings.Contains(entries[0].Name(), "echo") {
		t.Fatalf("debug-mode key name = %v, want it to contain the command label", entries)
	}
}

func TestRandomSuffixLength(t *testing.T) {
	s := randomSuffix()
	if len(s) != 16 {
		t.Fatalf("randomSuffix() = %q, want length 16", s)
	}
}
