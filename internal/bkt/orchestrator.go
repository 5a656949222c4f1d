package bkt

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relay-tools/bkt/internal/bkterrors"
	"github.com/relay-tools/bkt/internal/statsdb"
	"github.com/relay-tools/bkt/pkg/version"
)

// DefaultCleanupInterval is the sleep between passes of the perpetual
// cleanup worker started by CleanupThread, absent a configured override.
const DefaultCleanupInterval = 60 * time.Second

// Bkt binds a Cache to an execution policy: lookup-or-spawn, refresh, and
// background cleanup.
type Bkt struct {
	cache           Cache
	stats           *statsdb.DB
	cleanupInterval time.Duration
}

// New constructs a Bkt rooted at root (the OS temporary directory if root
// is empty), under an optional scope. The effective cache root is
// <root>/bkt-<major>.<minor>-cache: a version bump invalidates the cache
// without touching existing entries under the prior version's directory.
func New(root, scope string) (*Bkt, error) {
	if root == "" {
		root = os.TempDir()
	}
	cacheRoot := filepath.Join(root, version.CacheDirName())
	cache, err := NewCache(cacheRoot, scope)
	if err != nil {
		return nil, err
	}
	return &Bkt{cache: cache, cleanupInterval: DefaultCleanupInterval}, nil
}

// WithStats attaches a stats ledger. When present, every Execute/
// ExecuteAndCleanup call records a hit or miss, and every subprocess spawn
// records a spawn, keyed by the command's label. StatsDB errors never fail
// an operation.
func (b *Bkt) WithStats(db *statsdb.DB) *Bkt {
	b.stats = db
	return b
}

// WithStaleLockThreshold overrides the cleanup lock's stale-after duration.
func (b *Bkt) WithStaleLockThreshold(d time.Duration) *Bkt {
	b.cache = b.cache.WithStaleLockThreshold(d)
	return b
}

// WithCleanupInterval overrides the sleep between CleanupThread passes.
func (b *Bkt) WithCleanupInterval(d time.Duration) *Bkt {
	b.cleanupInterval = d
	return b
}

// WithDebugMode switches the underlying Cache between release and debug
// encodings; see Cache.WithDebugMode.
func (b *Bkt) WithDebugMode(enabled bool) *Bkt {
	b.cache = b.cache.WithDebugMode(enabled)
	return b
}

// CacheRoot returns the effective on-disk cache root directory.
func (b *Bkt) CacheRoot() string {
	return b.cache.root
}

// Execute returns the stored record and its age on a hit; on a miss it runs
// the subprocess, stores the result under ttl, and returns it with zero
// age.
func (b *Bkt) Execute(descriptor CommandDescriptor, ttl time.Duration) (InvocationRecord, time.Duration, error) {
	return b.execute(descriptor, ttl, false)
}

// ExecuteAndCleanup behaves like Execute, but on a miss spawns a background
// cleanup worker before launching the subprocess and joins it after the
// subprocess completes and the result is stored, hiding cleanup latency
// behind the subprocess's own wall-clock cost. Cleanup errors are logged,
// never propagated.
func (b *Bkt) ExecuteAndCleanup(descriptor CommandDescriptor, ttl time.Duration) (InvocationRecord, time.Duration, error) {
	return b.execute(descriptor, ttl, true)
}

func (b *Bkt) execute(descriptor CommandDescriptor, ttl time.Duration, withCleanup bool) (InvocationRecord, time.Duration, error) {
	record, storedAt, ok, err := b.cache.Lookup(descriptor, ttl)
	if err != nil {
		return InvocationRecord{}, 0, wrapForLabel(err, descriptor)
	}
	if ok {
		b.recordHit(descriptor)
		return record, time.Since(storedAt), nil
	}
	b.recordMiss(descriptor)

	var cleanupDone chan struct{}
	if withCleanup {
		cleanupDone = make(chan struct{})
		go func() {
			defer close(cleanupDone)
			if err := b.cache.Cleanup(); err != nil {
				log.Debug().Err(err).Msg("background cleanup failed")
			}
		}()
	}

	result, err := b.spawn(descriptor)
	if err != nil {
		if withCleanup {
			<-cleanupDone
		}
		return InvocationRecord{}, 0, wrapForLabel(err, descriptor)
	}

	if err := b.cache.Store(result, ttl); err != nil {
		if withCleanup {
			<-cleanupDone
		}
		return InvocationRecord{}, 0, wrapForLabel(err, descriptor)
	}

	if withCleanup {
		<-cleanupDone
	}

	return result, 0, nil
}

// Refresh always runs the subprocess, stores the result, and returns it,
// ignoring any existing entry.
func (b *Bkt) Refresh(descriptor CommandDescriptor, ttl time.Duration) (InvocationRecord, error) {
	result, err := b.spawn(descriptor)
	if err != nil {
		return InvocationRecord{}, wrapForLabel(err, descriptor)
	}
	if err := b.cache.Store(result, ttl); err != nil {
		return InvocationRecord{}, wrapForLabel(err, descriptor)
	}
	return result, nil
}

// wrapForLabel re-tags err with the command's label so CLI-layer logging
// can identify which invocation failed, preserving the original Kind and
// cause chain.
func wrapForLabel(err error, descriptor CommandDescriptor) error {
	var e *bkterrors.Error
	if !errors.As(err, &e) {
		return err
	}
	return bkterrors.Wrap(err, e.Kind, fmt.Sprintf("%s: %s", descriptor.Label(), e.Message))
}

// CleanupOnce runs one cleanup pass in the background and returns a handle
// that blocks until it completes.
func (b *Bkt) CleanupOnce() func() error {
	var wg sync.WaitGroup
	var result error
	wg.Add(1)
	go func() {
		defer wg.Done()
		result = b.cache.Cleanup()
	}()
	return func() error {
		wg.Wait()
		return result
	}
}

// CleanupThread starts a detached worker that loops forever, running
// cleanup and sleeping CleanupInterval between passes. Errors are logged,
// never propagated; the worker's lifetime is bound to the process and has
// no shutdown signal.
func (b *Bkt) CleanupThread() {
	go func() {
		for {
			if err := b.cache.Cleanup(); err != nil {
				log.Debug().Err(err).Msg("periodic cleanup failed")
			}
			time.Sleep(b.cleanupInterval)
		}
	}()
}

// spawn builds an OS process from the descriptor's argument vector,
// optional working directory, and environment additions (the ambient
// environment is overlaid with, not replaced by, the descriptor's
// entries), and captures stdout/stderr fully to memory.
func (b *Bkt) spawn(descriptor CommandDescriptor) (InvocationRecord, error) {
	args := descriptor.Args()
	if len(args) == 0 {
		return InvocationRecord{}, bkterrors.ProgrammerError("command descriptor has no arguments")
	}

	cmd := exec.Command(args[0], args[1:]...)

	if cwd, ok := descriptor.Cwd(); ok {
		cmd.Dir = cwd
	}

	env := os.Environ()
	for _, kv := range descriptor.Env() {
		env = append(env, kv.Name+"="+kv.Value)
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		exitErr, isExit := err.(*exec.ExitError)
		if !isExit {
			return InvocationRecord{}, bkterrors.SpawnFailure(args[0], err)
		}
		if exitErr.ExitCode() == -1 {
			// Terminated without a numeric code (e.g. by signal).
			exitCode = 126
		} else {
			exitCode = exitErr.ExitCode()
		}
	}

	b.recordSpawn(descriptor)

	return InvocationRecord{
		Command:  descriptor,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode,
		Duration: duration,
		Label:    descriptor.Label(),
	}, nil
}

func (b *Bkt) recordHit(d CommandDescriptor) {
	if b.stats != nil {
		b.stats.RecordHit(d.Label())
	}
}

func (b *Bkt) recordMiss(d CommandDescriptor) {
	if b.stats != nil {
		b.stats.RecordMiss(d.Label())
	}
}

func (b *Bkt) recordSpawn(d CommandDescriptor) {
	if b.stats != nil {
		b.stats.RecordSpawn(d.Label())
	}
}
