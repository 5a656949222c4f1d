// Package bkt implements the on-disk subprocess memoization cache: command
// fingerprinting, record serialization, file-locked cleanup, and the
// orchestrator that fuses lookup, execution, and background cleanup.
package bkt

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/cespare/xxhash"
)

// EnvVar is one (name, value) pair captured into a CommandDescriptor. Pairs
// are kept sorted by Name so fingerprinting and serialization never depend
// on insertion order.
type EnvVar struct {
	Name  string
	Value string
}

// CommandDescriptor is an immutable, hashable description of a command
// invocation. Every transformation method returns a new value; the receiver
// is left untouched.
type CommandDescriptor struct {
	args []string
	cwd  string
	hasCwd bool
	env  []EnvVar
}

// FromArgs builds a CommandDescriptor from an ordered argument sequence.
// args must contain at least one element (the executable).
func FromArgs(args []string) CommandDescriptor {
	cp := make([]string, len(args))
	copy(cp, args)
	return CommandDescriptor{args: cp}
}

// Args returns the descriptor's argument vector. The first element is the
// executable.
func (d CommandDescriptor) Args() []string {
	cp := make([]string, len(d.args))
	copy(cp, d.args)
	return cp
}

// Cwd returns the descriptor's working directory and whether one is set.
func (d CommandDescriptor) Cwd() (string, bool) {
	return d.cwd, d.hasCwd
}

// Env returns the descriptor's environment overlay, sorted by name.
func (d CommandDescriptor) Env() []EnvVar {
	cp := make([]EnvVar, len(d.env))
	copy(cp, d.env)
	return cp
}

// WithWorkingDir returns a copy of d with an explicit working directory set.
func (d CommandDescriptor) WithWorkingDir(dir string) CommandDescriptor {
	out := d.clone()
	out.cwd = dir
	out.hasCwd = true
	return out
}

// WithCwd captures the ambient working directory at call time.
func (d CommandDescriptor) WithCwd() CommandDescriptor {
	wd, err := os.Getwd()
	if err != nil {
		return d.clone()
	}
	return d.WithWorkingDir(wd)
}

// WithEnvValue returns a copy of d with name set to an explicit literal
// value, replacing any existing entry for name.
func (d CommandDescriptor) WithEnvValue(name, value string) CommandDescriptor {
	out := d.clone()
	out.env = setEnv(out.env, name, value)
	return out
}

// WithEnv imports a single environment variable from the ambient process
// environment. Absence of name in the ambient environment is a silent no-op.
func (d CommandDescriptor) WithEnv(name string) CommandDescriptor {
	value, ok := os.LookupEnv(name)
	if !ok {
		return d.clone()
	}
	return d.WithEnvValue(name, value)
}

// WithEnvs imports many environment variables from a caller-supplied
// mapping, as a convenience over repeated WithEnvValue calls.
func (d CommandDescriptor) WithEnvs(vars map[string]string) CommandDescriptor {
	out := d.clone()
	for name, value := range vars {
		out.env = setEnv(out.env, name, value)
	}
	return out
}

func (d CommandDescriptor) clone() CommandDescriptor {
	out := CommandDescriptor{
		args:   make([]string, len(d.args)),
		cwd:    d.cwd,
		hasCwd: d.hasCwd,
		env:    make([]EnvVar, len(d.env)),
	}
	copy(out.args, d.args)
	copy(out.env, d.env)
	return out
}

// setEnv inserts or replaces name in a sorted []EnvVar slice, keeping it
// sorted by Name.
func setEnv(env []EnvVar, name, value string) []EnvVar {
	i := sort.Search(len(env), func(i int) bool { return env[i].Name >= name })
	if i < len(env) && env[i].Name == name {
		env[i].Value = value
		return env
	}
	env = append(env, EnvVar{})
	copy(env[i+1:], env[i:])
	env[i] = EnvVar{Name: name, Value: value}
	return env
}

// Equal reports structural equality over all three fields.
func (d CommandDescriptor) Equal(other CommandDescriptor) bool {
	if len(d.args) != len(other.args) {
		return false
	}
	for i := range d.args {
		if d.args[i] != other.args[i] {
			return false
		}
	}
	if d.hasCwd != other.hasCwd || (d.hasCwd && d.cwd != other.cwd) {
		return false
	}
	if len(d.env) != len(other.env) {
		return false
	}
	for i := range d.env {
		if d.env[i] != other.env[i] {
			return false
		}
	}
	return true
}

// Label returns the executable basename of the descriptor's first argument,
// used for stats rollups and to tag errors with the failing command. It does
// not participate in equality, hashing, or lookup; the debug-mode
// fingerprint prefix is built from the full argument list instead.
func (d CommandDescriptor) Label() string {
	if len(d.args) == 0 {
		return ""
	}
	return basename(d.args[0])
}

func basename(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}

// canonicalBytes produces the fixed-order byte stream fed to the fingerprint
// hash: argument count + length-prefixed arguments, a present/absent flag
// plus value for cwd, and the sorted env pairs (length-prefixed name/value).
func (d CommandDescriptor) canonicalBytes() []byte {
	var buf []byte
	var scratch [8]byte

	putUint64 := func(v uint64) {
		binary.BigEndian.PutUint64(scratch[:], v)
		buf = append(buf, scratch[:]...)
	}
	putString := func(s string) {
		putUint64(uint64(len(s)))
		buf = append(buf, s...)
	}

	putUint64(uint64(len(d.args)))
	for _, a := range d.args {
		putString(a)
	}

	if d.hasCwd {
		buf = append(buf, 1)
		putString(d.cwd)
	} else {
		buf = append(buf, 0)
	}

	putUint64(uint64(len(d.env)))
	for _, e := range d.env {
		putString(e.Name)
		putString(e.Value)
	}

	return buf
}

// CacheKey returns the fingerprint defined for this descriptor: 16 uppercase
// hex digits, the xxhash.Sum64 of the canonical byte encoding of all three
// fields. The hash is stable across invocations of the same build; it is not
// guaranteed stable across different builds or hash implementations.
func (d CommandDescriptor) CacheKey() string {
	sum := xxhash.Sum64(d.canonicalBytes())
	return fmt.Sprintf("%016X", sum)
}

// sanitizeLabel keeps only alphanumerics and dashes, truncated to n runes,
// for the debug fingerprint prefix.
func sanitizeLabel(s string, n int) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s) && len(out) < n; i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			out = append(out, c)
		}
	}
	return string(out)
}

// DebugCacheKey returns the debug-mode fingerprint format:
// <sanitized_label:<=100>_<%016X>.
func (d CommandDescriptor) DebugCacheKey() string {
	label := ""
	if len(d.args) > 0 {
		label = sanitizeLabel(joinArgs(d.args), 100)
	}
	return fmt.Sprintf("%s_%s", label, d.CacheKey())
}

func joinArgs(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}
