package locks

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMakeName(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		outfolder string
		expected  string
	}{
		{"plain file in outfolder", "/out/result.bam", "/out", "result.bam"},
		{"subfolder target flattens", "/out/aligned/result.bam", "/out", "aligned__result.bam"},
		{"target outside outfolder", "/data/input.fq", "/out", "data__input.fq"},
		{"relative target", "result.bam", "/out", "result.bam"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MakeName(tt.target, tt.outfolder); got != tt.expected {
				t.Errorf("MakeName(%q, %q) = %q, want %q", tt.target, tt.outfolder, got, tt.expected)
			}
		})
	}
}

func TestPath(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		expected string
	}{
		{"bare name gets prefix", "result.bam", "/out/lock.result.bam"},
		{"prefixed name untouched", "lock.result.bam", "/out/lock.result.bam"},
		{"directory component preserved", "sub/result.bam", "/out/sub/lock.result.bam"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Path("/out", tt.base); got != tt.expected {
				t.Errorf("Path(/out, %q) = %q, want %q", tt.base, got, tt.expected)
			}
		})
	}
}

func TestRecoverPath(t *testing.T) {
	tests := []struct {
		name     string
		lock     string
		expected string
	}{
		{"standard lock", "/out/lock.result.bam", "/out/recover.lock.result.bam"},
		{"in subdirectory", "/out/sub/lock.x", "/out/sub/recover.lock.x"},
		{"unprefixed name still marked", "/out/result.bam", "/out/recover.lock.result.bam"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RecoverPath(tt.lock); got != tt.expected {
				t.Errorf("RecoverPath(%q) = %q, want %q", tt.lock, got, tt.expected)
			}
		})
	}
}

func TestCreateRaceFree(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lock.target")

	if err := CreateRaceFree(path); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if !Exists(path) {
		t.Fatal("lock file should exist after create")
	}

	err := CreateRaceFree(path)
	if !errors.Is(err, ErrLockExists) {
		t.Errorf("second create error = %v, want ErrLockExists", err)
	}
}

func TestCreateOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lock.target")

	if err := os.WriteFile(path, []byte("stale"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := Create(path); err != nil {
		t.Fatalf("Create over existing file: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Error("Create should truncate an existing lock file")
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	if Exists(filepath.Join(dir, "absent")) {
		t.Error("Exists should be false for a missing file")
	}
	if Exists(dir) {
		t.Error("Exists should be false for a directory")
	}
}
