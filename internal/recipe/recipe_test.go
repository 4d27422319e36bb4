package recipe

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeRecipe(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidRecipe(t *testing.T) {
	path := writeRecipe(t, `
name: rnaseq
version: "1.2"
outfolder: /tmp/rnaseq-out
stages:
  - name: align reads
    command: bwa mem ref.fa reads.fq
    target: aligned.bam
    checkpoint: true
  - name: call peaks
    commands:
      - macs2 callpeak -t aligned.bam
      - sort peaks.bed
    target: peaks.bed
    nofail: true
    clean: true
`)

	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Name != "rnaseq" || r.Version != "1.2" {
		t.Errorf("header = %q/%q", r.Name, r.Version)
	}
	if len(r.Stages) != 2 {
		t.Fatalf("stages = %d, want 2", len(r.Stages))
	}
	if !r.Stages[0].Checkpoint {
		t.Error("first stage should be checkpointed")
	}
	if got := r.Stages[1].CommandList(); len(got) != 2 {
		t.Errorf("second stage commands = %v", got)
	}
}

func TestCommandListPrefersCommands(t *testing.T) {
	st := Stage{Command: "single", Commands: []string{"a", "b"}}
	if got := st.CommandList(); len(got) != 2 || got[0] != "a" {
		t.Errorf("CommandList = %v, want [a b]", got)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"missing name",
			"stages:\n  - name: x\n    command: true\n    target: t\n",
			"name is required",
		},
		{
			"no stages",
			"name: p\n",
			"at least one stage",
		},
		{
			"stage without command",
			"name: p\nstages:\n  - name: x\n    target: t\n",
			"a command is required",
		},
		{
			"stage without target or lock",
			"name: p\nstages:\n  - name: x\n    command: true\n",
			"target or lock_name",
		},
		{
			"duplicate stage names",
			"name: p\nstages:\n  - name: x\n    command: true\n    target: a\n  - name: x\n    command: true\n    target: b\n",
			"duplicate stage name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeRecipe(t, tt.content)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load of a missing file should fail")
	}
}
