// Package proc supervises the child processes a pipeline runs: spawning in
// direct or shell mode, sampling memory while they execute, reaping them,
// and terminating them when the pipeline is interrupted.
package proc

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// ShellMode selects how a command string becomes a process.
type ShellMode int

const (
	// ShellGuess inspects the command for shell metacharacters and picks
	// a mode. Direct mode is preferred because it enables memory sampling
	// of the child.
	ShellGuess ShellMode = iota
	// ShellAlways runs the command through /bin/sh -c.
	ShellAlways
	// ShellNever tokenizes the command and execs the argv directly.
	ShellNever
)

// ParseShellMode maps the textual forms accepted in recipes and flags.
func ParseShellMode(s string) (ShellMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "guess":
		return ShellGuess, nil
	case "true", "yes", "shell":
		return ShellAlways, nil
	case "false", "no", "direct":
		return ShellNever, nil
	}
	return ShellGuess, fmt.Errorf("unrecognized shell mode %q", s)
}

// shellMetachars are the characters whose presence means a command needs a
// shell: pipes, redirects, and glob expansion.
const shellMetachars = "|><*"

// LikelyShell reports whether a command appears to require a shell.
func LikelyShell(cmd string) bool {
	return strings.ContainsAny(cmd, shellMetachars)
}

// resolveShell decides the concrete mode for one command.
func resolveShell(cmd string, mode ShellMode) bool {
	switch mode {
	case ShellAlways:
		return true
	case ShellNever:
		return false
	default:
		return LikelyShell(cmd)
	}
}

// Split tokenizes a command the way a POSIX shell would, without running one.
func Split(cmd string) ([]string, error) {
	argv, err := shlex.Split(cmd)
	if err != nil {
		return nil, fmt.Errorf("tokenize command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return argv, nil
}

// commandToken returns the logical command name recorded in profile rows:
// the first whitespace-delimited atom of the unwrapped command.
func commandToken(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
