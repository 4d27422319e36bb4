package proc

import (
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Poll backoff constants for running children. The first poll comes fast so
// short commands return promptly; long-running commands are checked at most
// once a minute.
const (
	PollStart = 250 * time.Millisecond
	PollStep  = 5 * time.Second
	PollCap   = 60 * time.Second
)

// Entry describes one tracked child process.
type Entry struct {
	PID       int
	Name      string
	Container string
	Start     time.Time
	shell     bool
	cmd       *exec.Cmd
}

// Result describes a finished (or released) child.
type Result struct {
	PID     int
	Name    string
	Code    int
	Elapsed time.Duration
	// PeakGB is the sampled memory high-water mark in gigabytes, or -1
	// when the child could not be sampled (shell mode, no /proc, or an
	// exit before the first poll).
	PeakGB float64
}

// Supervisor spawns, tracks, samples, and terminates child processes.
//
// Children are placed in their own process group so a SIGINT or SIGTERM
// delivered to the pipeline stops at the supervisor; the supervisor alone
// decides when its children die, which keeps the final log lines intact.
type Supervisor struct {
	// Out receives child stdout and stderr.
	Out io.Writer
	// Logf receives the supervisor's own notices.
	Logf func(format string, args ...any)
	// Wait false turns Execute into fire-and-forget: the child is
	// registered and released without polling.
	Wait bool
	// Category selects the /proc figure sampled for direct children.
	Category MemCategory

	PollStart time.Duration
	PollStep  time.Duration
	PollCap   time.Duration

	mu    sync.Mutex
	procs map[int]*Entry
}

// NewSupervisor creates a Supervisor with default polling and sampling.
func NewSupervisor(out io.Writer, logf func(string, ...any)) *Supervisor {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Supervisor{
		Out:       out,
		Logf:      logf,
		Wait:      true,
		Category:  MemHWM,
		PollStart: PollStart,
		PollStep:  PollStep,
		PollCap:   PollCap,
		procs:     make(map[int]*Entry),
	}
}

// Running returns the number of live tracked children.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

// Execute runs one command to completion and returns its exit code and
// sampled peak memory. The command is wrapped for the container runtime
// first when container is nonempty, then shell-mode inference applies to
// the wrapped text. A nonzero exit is reported through Result.Code, not
// through the error value; errors mean the child could not be run at all.
func (s *Supervisor) Execute(cmd string, mode ShellMode, container string) (Result, error) {
	logical := commandToken(cmd)

	full := cmd
	if container != "" {
		full = "docker exec " + container + " " + cmd
	}

	useShell := resolveShell(full, mode)

	var c *exec.Cmd
	if useShell {
		c = exec.Command("/bin/sh", "-c", full)
	} else {
		if LikelyShell(full) {
			s.Logf("Should this command run in a shell instead of directly in a subprocess?")
		}
		argv, err := Split(full)
		if err != nil {
			return Result{Code: -1, PeakGB: -1, Name: logical}, err
		}
		c = exec.Command(argv[0], argv[1:]...)
	}

	c.Stdout = s.Out
	c.Stderr = s.Out
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := c.Start(); err != nil {
		return Result{Code: -1, PeakGB: -1, Name: logical}, err
	}

	entry := &Entry{
		PID:       c.Process.Pid,
		Name:      logical,
		Container: container,
		Start:     time.Now(),
		shell:     useShell,
		cmd:       c,
	}
	s.mu.Lock()
	s.procs[entry.PID] = entry
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- c.Wait() }()

	if !s.Wait {
		s.Logf("Not waiting for subprocess: %d", entry.PID)
		return Result{PID: entry.PID, Name: logical, Code: 0, PeakGB: -1}, nil
	}

	localMaxKB := -1.0
	sleeptime := s.PollStart

	running := true
	for running {
		select {
		case <-done:
			running = false
		case <-time.After(sleeptime):
			if !useShell {
				localMaxKB = max(localMaxKB, s.sample(entry))
			}
			sleeptime += s.PollStep
			if sleeptime > s.PollCap {
				sleeptime = s.PollCap
			}
		}
	}

	s.mu.Lock()
	delete(s.procs, entry.PID)
	s.mu.Unlock()

	res := Result{
		PID:     entry.PID,
		Name:    logical,
		Code:    c.ProcessState.ExitCode(),
		Elapsed: time.Since(entry.Start),
		PeakGB:  kbToGB(localMaxKB),
	}
	return res, nil
}

// sample returns the entry's current memory use in kilobytes.
func (s *Supervisor) sample(e *Entry) float64 {
	if e.Container != "" {
		return containerMemoryKB(e.Container)
	}
	return memoryUsageKB(e.PID, s.Category)
}

// kbToGB converts kilobytes to gigabytes. A reading of zero or less means
// nothing was sampled and becomes the -1 sentinel.
func kbToGB(kb float64) float64 {
	if kb <= 0 {
		return -1
	}
	return kb / 1e6
}

// TerminateAll stops every tracked child: a final memory sample and the
// report callback first, so interrupted work still gets its profile row,
// then SIGTERM to the child's process group.
func (s *Supervisor) TerminateAll(report func(name string, elapsed time.Duration, peakGB float64)) {
	s.mu.Lock()
	entries := make([]*Entry, 0, len(s.procs))
	for _, e := range s.procs {
		entries = append(entries, e)
	}
	s.procs = make(map[int]*Entry)
	s.mu.Unlock()

	for _, e := range entries {
		peakGB := kbToGB(s.sample(e))
		if report != nil {
			report(e.Name, time.Since(e.Start), peakGB)
		}
		s.kill(e)
	}
}

// kill terminates a child's process group, falling back to the process
// itself when the group signal fails.
func (s *Supervisor) kill(e *Entry) {
	name := e.Name
	s.Logf("Terminating spawned child process %d... (%s)", e.PID, name)
	if err := syscall.Kill(-e.PID, syscall.SIGTERM); err != nil {
		syscall.Kill(e.PID, syscall.SIGTERM)
	}
	s.Logf("Child process terminated")
}

// CheckOutput runs a command and captures its stdout, for callers that
// need the command's result as a value. The child is not tracked or
// sampled. A nonzero exit surfaces as the error from the exec package.
func (s *Supervisor) CheckOutput(cmd string, mode ShellMode) (string, error) {
	useShell := resolveShell(cmd, mode)

	var c *exec.Cmd
	if useShell {
		c = exec.Command("/bin/sh", "-c", cmd)
	} else {
		argv, err := Split(cmd)
		if err != nil {
			return "", err
		}
		c = exec.Command(argv[0], argv[1:]...)
	}
	c.Stderr = s.Out

	out, err := c.Output()
	return string(out), err
}
