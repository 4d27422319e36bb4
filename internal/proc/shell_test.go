package proc

import "testing"

func TestLikelyShell(t *testing.T) {
	tests := []struct {
		name     string
		cmd      string
		expected bool
	}{
		{"pipe", "a | b", true},
		{"redirect out", "echo hi > out.txt", true},
		{"redirect in", "sort < in.txt", true},
		{"glob", "rm *.tmp", true},
		{"plain argv", "a b c", false},
		{"quoted text is still direct", `echo "hello world"`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LikelyShell(tt.cmd); got != tt.expected {
				t.Errorf("LikelyShell(%q) = %v, want %v", tt.cmd, got, tt.expected)
			}
		})
	}
}

func TestParseShellMode(t *testing.T) {
	tests := []struct {
		in       string
		expected ShellMode
		wantErr  bool
	}{
		{"", ShellGuess, false},
		{"guess", ShellGuess, false},
		{"true", ShellAlways, false},
		{"shell", ShellAlways, false},
		{"false", ShellNever, false},
		{"direct", ShellNever, false},
		{"maybe", ShellGuess, true},
	}

	for _, tt := range tests {
		got, err := ParseShellMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseShellMode(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.expected {
			t.Errorf("ParseShellMode(%q) = %v, want %v", tt.in, got, tt.expected)
		}
	}
}

func TestSplit(t *testing.T) {
	argv, err := Split(`bwa mem -t 4 "ref genome.fa" reads.fq`)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	expected := []string{"bwa", "mem", "-t", "4", "ref genome.fa", "reads.fq"}
	if len(argv) != len(expected) {
		t.Fatalf("Split returned %v, want %v", argv, expected)
	}
	for i := range argv {
		if argv[i] != expected[i] {
			t.Errorf("argv[%d] = %q, want %q", i, argv[i], expected[i])
		}
	}
}

func TestSplitEmpty(t *testing.T) {
	if _, err := Split("   "); err == nil {
		t.Error("Split of blank command should fail")
	}
}

func TestCommandToken(t *testing.T) {
	tests := []struct {
		cmd      string
		expected string
	}{
		{"samtools sort x.bam", "samtools"},
		{"  echo hi", "echo"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := commandToken(tt.cmd); got != tt.expected {
			t.Errorf("commandToken(%q) = %q, want %q", tt.cmd, got, tt.expected)
		}
	}
}
