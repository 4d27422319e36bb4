package manager

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCleanupOnComplete(t *testing.T) {
	m := newTestManager(t, "clean", nil)

	tmp := filepath.Join(m.Outfolder(), "intermediate.sam")
	if err := os.WriteFile(tmp, []byte("big"), 0644); err != nil {
		t.Fatal(err)
	}
	m.CleanAdd(tmp, false, false)

	if err := m.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := os.Stat(tmp); err == nil {
		t.Error("unconditional cleanup entry should be deleted on success")
	}
}

func TestRunCleanFlagRegistersTarget(t *testing.T) {
	m := newTestManager(t, "cleanrun", nil)
	target := filepath.Join(m.Outfolder(), "tmp.txt")

	if _, err := m.Run(RunSpec{
		Commands: []string{"touch " + target},
		Target:   target,
		Clean:    true,
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatal("target should exist before completion")
	}

	if err := m.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := os.Stat(target); err == nil {
		t.Error("clean target should be deleted on completion")
	}
}

func TestConditionalCleanupBlockedBySibling(t *testing.T) {
	m := newTestManager(t, "cond", nil)

	// A sibling pipeline is mid-run in the same folder.
	sibling := filepath.Join(m.Outfolder(), "other_running.flag")
	if err := os.WriteFile(sibling, nil, 0644); err != nil {
		t.Fatal(err)
	}

	tmp := filepath.Join(m.Outfolder(), "shared-intermediate.bed")
	if err := os.WriteFile(tmp, nil, 0644); err != nil {
		t.Fatal(err)
	}
	m.CleanAdd(tmp, true, false)

	if err := m.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if _, err := os.Stat(tmp); err != nil {
		t.Error("conditional entry should survive while a sibling runs")
	}
	script := readFileString(t, filepath.Join(m.Outfolder(), "cond_cleanup.sh"))
	if !strings.Contains(script, "rm "+tmp+"\n") {
		t.Errorf("cleanup script should defer the removal:\n%s", script)
	}
}

func TestConditionalCleanupProceedsWhenAlone(t *testing.T) {
	m := newTestManager(t, "alone", nil)

	tmp := filepath.Join(m.Outfolder(), "only-mine.bed")
	if err := os.WriteFile(tmp, nil, 0644); err != nil {
		t.Fatal(err)
	}
	m.CleanAdd(tmp, true, false)

	if err := m.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := os.Stat(tmp); err == nil {
		t.Error("conditional entry should be deleted when no sibling is active")
	}
}

func TestManualCleanRoutesToScript(t *testing.T) {
	m := newTestManager(t, "manual", func(o *Options) { o.ManualClean = true })

	tmp := filepath.Join(m.Outfolder(), "debris.txt")
	if err := os.WriteFile(tmp, nil, 0644); err != nil {
		t.Fatal(err)
	}
	m.CleanAdd(tmp, false, false)

	// The file survives even a successful completion.
	if err := m.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := os.Stat(tmp); err != nil {
		t.Error("manual-clean mode must never delete automatically")
	}
	script := readFileString(t, filepath.Join(m.Outfolder(), "manual_cleanup.sh"))
	if !strings.Contains(script, "rm "+tmp+"\n") {
		t.Errorf("cleanup script should list the file:\n%s", script)
	}
}

func TestFailureLeavesArtifacts(t *testing.T) {
	m := newTestManager(t, "failkeep", nil)

	tmp := filepath.Join(m.Outfolder(), "partial.out")
	if err := os.WriteFile(tmp, nil, 0644); err != nil {
		t.Fatal(err)
	}
	m.CleanAdd(tmp, false, false)

	m.Fail(os.ErrInvalid, false)

	if _, err := os.Stat(tmp); err != nil {
		t.Error("failure path must not delete intermediate files")
	}
	script := readFileString(t, filepath.Join(m.Outfolder(), "failkeep_cleanup.sh"))
	if !strings.Contains(script, "rm "+tmp+"\n") {
		t.Errorf("failure should still produce the cleanup script:\n%s", script)
	}
}

func TestShutdownFinalizesScript(t *testing.T) {
	m := newTestManager(t, "final", nil)

	tmp := filepath.Join(m.Outfolder(), "junk.txt")
	if err := os.WriteFile(tmp, nil, 0644); err != nil {
		t.Fatal(err)
	}
	m.CleanAdd(tmp, false, true)

	if err := m.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	m.Shutdown()

	script := filepath.Join(m.Outfolder(), "final_cleanup.sh")
	content := readFileString(t, script)
	if !strings.Contains(content, "rm "+script+"\n") {
		t.Errorf("script should be self-deleting:\n%s", content)
	}
	info, err := os.Stat(script)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&0111 == 0 {
		t.Error("script should be executable after shutdown")
	}
}

func TestShutdownMarksUnfinishedRunFailed(t *testing.T) {
	m := newTestManager(t, "aborted", nil)

	// No Complete/Halt/Fail happened; the exit path is the last chance
	// to tell observers the truth.
	m.Shutdown()

	if !m.Failed() {
		t.Error("shutdown of a non-terminal pipeline should mark it failed")
	}
	if _, err := os.Stat(filepath.Join(m.Outfolder(), "aborted_failed.flag")); err != nil {
		t.Error("failed flag file missing after shutdown")
	}
}
