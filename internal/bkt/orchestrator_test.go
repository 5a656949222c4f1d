package bkt

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/relay-tools/bkt/internal/bkterrors"
	"github.com/relay-tools/bkt/pkg/version"
)

func newTestBkt(t *testing.T) *Bkt {
	t.Helper()
	b, err := New(t.TempDir(), "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return b
}

func TestExecuteCacheHitPreservesRuntime(t *testing.T) {
	b := newTestBkt(t)
	d := FromArgs([]string{"echo", "hello"})

	first, age, err := b.Execute(d, time.Minute)
	if err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}
	if age != 0 {
		t.Fatalf("first Execute() age = %v, want 0", age)
	}
	if first.Duration == 0 {
		t.Fatal("first Execute() should report a nonzero runtime")
	}

	second, age, err := b.Execute(d, time.Minute)
	if err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	if age >= time.Minute {
		t.Fatalf("second Execute() age = %v, want < ttl", age)
	}
	if second.Duration != first.Duration {
		t.Fatalf("second Execute() duration = %v, want preserved %v", second.Duration, first.Duration)
	}
}

func TestRefreshReplacesEntry(t *testing.T) {
	b := newTestBkt(t)
	d := FromArgs([]string{"echo", "hello"})

	if _, _, err := b.Execute(d, time.Minute); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if _, err := b.Refresh(d, time.Minute); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	_, age, err := b.Execute(d, time.Minute)
	if err != nil {
		t.Fatalf("Execute() after Refresh() error = %v", err)
	}
	if age <= 0 || age >= time.Minute {
		t.Fatalf("Execute() after Refresh() age = %v, want a small positive age under the ttl", age)
	}
}

func TestExecuteAndCleanupRunsInBackground(t *testing.T) {
	b := newTestBkt(t)
	d := FromArgs([]string{"echo", "hello"})

	if _, _, err := b.ExecuteAndCleanup(d, time.Minute); err != nil {
		t.Fatalf("ExecuteAndCleanup() error = %v", err)
	}

	// A second call should now be a hit.
	_, age, err := b.ExecuteAndCleanup(d, time.Minute)
	if err != nil {
		t.Fatalf("second ExecuteAndCleanup() error = %v", err)
	}
	if age >= time.Minute {
		t.Fatalf("second ExecuteAndCleanup() age = %v, want < ttl", age)
	}
}

func TestSpawnFailureIsSurfaced(t *testing.T) {
	b := newTestBkt(t)
	d := FromArgs([]string{"bkt-test-nonexistent-executable-xyz"})

	_, _, err := b.Execute(d, time.Minute)
	if err == nil {
		t.Fatal("expected Execute() to fail for a nonexistent executable")
	}
	if !bkterrors.Is(err, bkterrors.KindSpawnFailure) {
		t.Fatalf("expected a SpawnFailure error, got %v", err)
	}
}

func TestCleanupOnceJoins(t *testing.T) {
	b := newTestBkt(t)
	join := b.CleanupOnce()
	if err := join(); err != nil {
		t.Fatalf("CleanupOnce() join error = %v", err)
	}
}

func TestCacheRootIsVersionQualified(t *testing.T) {
	b := newTestBkt(t)
	got := b.CacheRoot()
	if got == "" {
		t.Fatal("CacheRoot() should not be empty")
	}
	if base := filepath.Base(got); base != version.CacheDirName() {
		t.Fatalf("CacheRoot() = %q, want a final element of %q", got, version.CacheDirName())
	}
}
