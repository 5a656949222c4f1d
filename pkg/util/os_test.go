package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestByteCountSI(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want string
	}{
		{"zero", 0, "0 B"},
		{"bytes", 500, "500 B"},
		{"kilobytes", 1500, "1.5 kB"},
		{"megabytes", 1_500_000, "1.5 MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ByteCountSI(tt.in); got != tt.want {
				t.Errorf("ByteCountSI(%d) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPrepareDirCreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "path")
	if err := PrepareDir(dir); err != nil {
		t.Fatalf("PrepareDir() error = %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if !info.IsDir() {
		t.Fatal("PrepareDir() should have created a directory")
	}
}

func TestPrepareDirRejectsRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := PrepareDir(path); err == nil {
		t.Fatal("expected PrepareDir() to fail on a regular file")
	}
}
