package bkt

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"time"

	"github.com/relay-tools/bkt/internal/bkterrors"
)

// Serializer encodes and decodes InvocationRecords to and from byte
// streams. Release mode uses a gob-based binary codec; debug mode
// (Cache.WithDebugMode) substitutes a human-readable JSON codec and also
// switches fingerprint-key formatting (§6).
type Serializer interface {
	Serialize(r InvocationRecord) ([]byte, error)
	Deserialize(b []byte) (InvocationRecord, error)
}

// wireRecord is the exported mirror of InvocationRecord used at the
// encoding boundary, since CommandDescriptor's fields are intentionally
// unexported to keep it an immutable value type.
type wireRecord struct {
	Args     []string
	HasCwd   bool
	Cwd      string
	Env      []EnvVar
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
	Label    string
}

func toWire(r InvocationRecord) wireRecord {
	cwd, hasCwd := r.Command.Cwd()
	return wireRecord{
		Args:     r.Command.Args(),
		HasCwd:   hasCwd,
		Cwd:      cwd,
		Env:      r.Command.Env(),
		Stdout:   r.Stdout,
		Stderr:   r.Stderr,
		ExitCode: r.ExitCode,
		Duration: r.Duration,
		Label:    r.Label,
	}
}

func fromWire(w wireRecord) InvocationRecord {
	d := FromArgs(w.Args)
	if w.HasCwd {
		d = d.WithWorkingDir(w.Cwd)
	}
	for _, e := range w.Env {
		d = d.WithEnvValue(e.Name, e.Value)
	}
	return InvocationRecord{
		Command:  d,
		Stdout:   w.Stdout,
		Stderr:   w.Stderr,
		ExitCode: w.ExitCode,
		Duration: w.Duration,
		Label:    w.Label,
	}
}

// GobSerializer is the release-mode binary codec, grounded on the original
// implementation's bincode/serde_json split translated to Go's nearest
// binary-vs-text codec pair.
type GobSerializer struct{}

func (GobSerializer) Serialize(r InvocationRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(toWire(r)); err != nil {
		return nil, bkterrors.CorruptCache("failed to encode invocation record", err)
	}
	return buf.Bytes(), nil
}

func (GobSerializer) Deserialize(b []byte) (InvocationRecord, error) {
	var w wireRecord
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&w); err != nil {
		return InvocationRecord{}, bkterrors.CorruptCache("failed to decode invocation record", err)
	}
	return fromWire(w), nil
}

// JSONSerializer is the debug-mode human-readable codec.
type JSONSerializer struct{}

func (JSONSerializer) Serialize(r InvocationRecord) ([]byte, error) {
	b, err := json.Marshal(toWire(r))
	if err != nil {
		return nil, bkterrors.CorruptCache("failed to encode invocation record", err)
	}
	return b, nil
}

func (JSONSerializer) Deserialize(b []byte) (InvocationRecord, error) {
	var w wireRecord
	if err := json.Unmarshal(b, &w); err != nil {
		return InvocationRecord{}, bkterrors.CorruptCache("failed to decode invocation record", err)
	}
	return fromWire(w), nil
}
