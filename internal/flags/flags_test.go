package flags

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFilePath(t *testing.T) {
	got := FilePath("/out", "rnaseq", Running)
	want := filepath.Join("/out", "rnaseq_running.flag")
	if got != want {
		t.Errorf("FilePath = %q, want %q", got, want)
	}
}

func flagFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return matches
}

func TestStoreLifecycle(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "pipe")

	if s.Status() != Initializing {
		t.Fatalf("initial status = %s, want initializing", s.Status())
	}
	if len(flagFiles(t, dir)) != 0 {
		t.Fatal("no flag file should exist before the first Set")
	}

	if _, err := s.Set(Running); err != nil {
		t.Fatalf("Set(Running): %v", err)
	}
	files := flagFiles(t, dir)
	if len(files) != 1 || filepath.Base(files[0]) != "pipe_running.flag" {
		t.Fatalf("after Set(Running), flags = %v", files)
	}

	// running -> waiting -> running -> completed, one flag at a time.
	for _, next := range []Status{Waiting, Running, Completed} {
		prev := s.Status()
		got, err := s.Set(next)
		if err != nil {
			t.Fatalf("Set(%s): %v", next, err)
		}
		if got != prev {
			t.Errorf("Set(%s) returned prev %s, want %s", next, got, prev)
		}
		files := flagFiles(t, dir)
		if len(files) != 1 {
			t.Fatalf("after Set(%s), %d flag files exist: %v", next, len(files), files)
		}
		if filepath.Base(files[0]) != "pipe_"+string(next)+".flag" {
			t.Errorf("after Set(%s), flag = %s", next, files[0])
		}
	}
}

func TestIllegalTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []Status
		next Status
	}{
		{"initializing to completed", nil, Completed},
		{"waiting to paused", []Status{Running, Waiting}, Paused},
		{"completed is terminal", []Status{Running, Completed}, Running},
		{"failed is terminal", []Status{Running, Failed}, Running},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(t.TempDir(), "pipe")
			for _, st := range tt.path {
				if _, err := s.Set(st); err != nil {
					t.Fatalf("setup Set(%s): %v", st, err)
				}
			}
			prev := s.Status()
			if _, err := s.Set(tt.next); err == nil {
				t.Errorf("Set(%s) from %s should fail", tt.next, prev)
			}
			if s.Status() != prev {
				t.Errorf("status changed on illegal transition: %s", s.Status())
			}
		})
	}
}

func TestCanSet(t *testing.T) {
	s := NewStore(t.TempDir(), "pipe")
	if !s.CanSet(Running) {
		t.Error("initializing -> running should be legal")
	}
	if s.CanSet(Waiting) {
		t.Error("initializing -> waiting should be illegal")
	}
}

func TestTerminal(t *testing.T) {
	s := NewStore(t.TempDir(), "pipe")
	if s.Terminal() {
		t.Error("initializing should not be terminal")
	}
	s.Set(Running)
	if s.Terminal() {
		t.Error("running should not be terminal")
	}
	s.Set(Failed)
	if !s.Terminal() {
		t.Error("failed should be terminal")
	}
}

func TestClear(t *testing.T) {
	dir := t.TempDir()

	// Leftovers from a previous run of this pipeline, plus a sibling's
	// flag that must survive.
	for _, name := range []string{"pipe_failed.flag", "pipe_waiting.flag", "other_running.flag"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	s := NewStore(dir, "pipe")
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	files := flagFiles(t, dir)
	if len(files) != 1 || filepath.Base(files[0]) != "other_running.flag" {
		t.Errorf("after Clear, flags = %v", files)
	}
}
