package bkt

import (
	"time"
	"unicode/utf8"

	"github.com/relay-tools/bkt/internal/bkterrors"
)

// InvocationRecord is the captured result of one command execution.
type InvocationRecord struct {
	Command  CommandDescriptor
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
	// Label is the executable basename of Command's first argument, carried
	// through serialization; it is not part of equality.
	Label string
}

// StdoutUTF8 returns captured stdout as text. Invalid UTF-8 is a programmer
// error and panics with a *bkterrors.Error of kind ProgrammerError.
func (r InvocationRecord) StdoutUTF8() string {
	return mustUTF8(r.Stdout, "stdout")
}

// StderrUTF8 returns captured stderr as text. Invalid UTF-8 is a programmer
// error and panics with a *bkterrors.Error of kind ProgrammerError.
func (r InvocationRecord) StderrUTF8() string {
	return mustUTF8(r.Stderr, "stderr")
}

func mustUTF8(b []byte, which string) string {
	if !utf8.Valid(b) {
		panic(bkterrors.ProgrammerError("captured " + which + " is not valid UTF-8"))
	}
	return string(b)
}

// Equal reports whether two records are structurally identical, including
// their originating CommandDescriptor. Label is not compared.
func (r InvocationRecord) Equal(other InvocationRecord) bool {
	return r.Command.Equal(other.Command) &&
		string(r.Stdout) == string(other.Stdout) &&
		string(r.Stderr) == string(other.Stderr) &&
		r.ExitCode == other.ExitCode &&
		r.Duration == other.Duration
}
