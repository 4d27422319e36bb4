package manager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/specterops/pipemgr/internal/checkpoint"
	"github.com/specterops/pipemgr/internal/flags"
	"github.com/specterops/pipemgr/internal/locks"
	"github.com/specterops/pipemgr/internal/proc"
	"github.com/specterops/pipemgr/internal/utils"
)

// ProcessError reports a child process that exited nonzero.
type ProcessError struct {
	Name string
	Code int
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("subprocess %s returned nonzero result: %d", e.Name, e.Code)
}

// RunSpec describes one unit of work for Run.
type RunSpec struct {
	// Commands holds one or more commands run sequentially; the unit's
	// return code is the maximum across them.
	Commands []string
	// Target is the primary output file the commands produce; its
	// presence makes the unit skippable. Targets may carry alternates,
	// of which only the first is consulted.
	Target  string
	Targets []string
	// LockName overrides the lock name derived from the target. Required
	// for targetless commands.
	LockName string

	Shell  proc.ShellMode
	NoFail bool
	Errmsg string
	// Clean adds the target to the unconditional cleanup list on success.
	Clean bool
	// Follow runs after the commands succeed (or after a skip, when the
	// manager is in force-follow mode).
	Follow func()
	// Container runs the commands inside a docker container.
	Container string

	// Checkpoint names a stage whose marker file short-circuits the unit.
	Checkpoint string
	// CheckpointFilename names the marker file verbatim instead.
	CheckpointFilename string
	// OverwriteCheckpoint disregards an existing marker for this call.
	OverwriteCheckpoint bool
}

// Run executes a unit of work under the file-lock protocol.
//
// The decision procedure: an existing checkpoint skips the unit; an
// existing target with no lock skips the unit; an existing lock means wait
// (or seize it, in recover mode or when a recovery file marks it
// abandoned); otherwise acquire the lock, run the commands, and release.
// The return value is the maximum exit code across the unit's commands; a
// nonzero code only reaches the caller when the spec sets NoFail.
func (m *Manager) Run(spec RunSpec) (int, error) {
	target := spec.Target
	if target == "" && len(spec.Targets) > 0 {
		target = spec.Targets[0]
	}
	// The default lock name is based on the target name, so a targetless
	// command must name its lock explicitly.
	if target == "" && spec.LockName == "" {
		return -1, m.Fail(ErrMissingLockTarget, false)
	}

	if m.checkpointShortCircuit(spec) {
		return 0, nil
	}

	lockName := spec.LockName
	if lockName == "" {
		lockName = locks.MakeName(target, m.outfolder)
	}
	lockFile := locks.Path(m.outfolder, lockName)
	recoverFile := locks.RecoverPath(lockFile)
	recoverMode := false

	callFollow := m.wrapFollow(spec.Follow)

	returnCode := 0

	// The loop is a guard against creation races: if the exclusive
	// create loses, we wait and re-run the tests.
	for {
		// Target exists and nobody is producing it: nothing to do.
		if target != "" && pathExists(target) && !locks.Exists(lockFile) {
			m.log.Print("\nTarget exists: `" + target + "`")
			if m.forceFollow {
				callFollow()
			}
			break
		}

		if locks.Exists(lockFile) {
			if m.overwriteLocks {
				m.log.Info("Found lock file; overwriting this target...")
			} else if locks.Exists(recoverFile) {
				m.log.Info("Found lock file. Found dynamic recovery file. Overwriting this target...")
				// The recovery flag is spent once consumed, so a
				// failed rerun does not silently recover again.
				recoverMode = true
				if err := os.Remove(recoverFile); err != nil && !os.IsNotExist(err) {
					return -1, m.Fail(err, false)
				}
			} else {
				m.waitForLock(lockFile)
				// Loop again: the target may exist now.
				continue
			}
		}

		m.addLock(lockFile)
		if m.overwriteLocks || recoverMode {
			if err := locks.Create(lockFile); err != nil {
				return -1, m.Fail(err, false)
			}
		} else {
			if err := locks.CreateRaceFree(lockFile); err != nil {
				if errors.Is(err, locks.ErrLockExists) {
					m.log.Info("Lock file created after test! Looping again.")
					m.dropLock(lockFile)
					continue
				}
				return -1, m.Fail(err, false)
			}
		}

		if target != "" {
			m.log.Print("\nTarget to produce: `" + target + "`")
		} else {
			m.log.Print("\nTargetless command, running...")
		}

		for _, cmd := range spec.Commands {
			code, err := m.callPrint(cmd, spec.Shell, spec.NoFail, spec.Container, lockName, spec.Errmsg)
			if err != nil {
				return code, err
			}
			if code > returnCode {
				returnCode = code
			}
		}

		if target != "" && spec.Clean {
			m.CleanAdd(target, false, false)
		}

		callFollow()

		if err := os.Remove(lockFile); err != nil && !os.IsNotExist(err) {
			m.log.Warning("Could not remove lock file: " + lockFile)
		}
		m.dropLock(lockFile)
		break
	}

	return returnCode, nil
}

// checkpointShortCircuit consults the candidate checkpoint files for a
// run. True means the unit is satisfied and Run should return success.
func (m *Manager) checkpointShortCircuit(spec RunSpec) bool {
	names := checkpoint.CandidateFiles(spec.Checkpoint, spec.CheckpointFilename)
	for _, fname := range names {
		path := m.pipelineFilePath(fname)
		if !fileExists(path) {
			continue
		}
		if m.overwriteCheckpoints || spec.OverwriteCheckpoint {
			m.log.Info("Running stage and overwriting checkpoint: '" + path + "'")
			return false
		}
		m.log.Info("Checkpoint file exists ('" + path + "'), skipping")
		return true
	}
	if len(names) > 0 {
		if spec.CheckpointFilename != "" {
			m.log.Info("Checkpoint file ('" + spec.CheckpointFilename + "') doesn't exist; running...")
		} else {
			m.log.Info("No checkpoint file for '" + spec.Checkpoint + "'; running...")
		}
	}
	return false
}

// wrapFollow turns the optional follow-up into a safe call wrapped in a
// log banner.
func (m *Manager) wrapFollow(follow func()) func() {
	if follow == nil {
		return func() {}
	}
	return func() {
		m.log.Print("Follow:")
		follow()
	}
}

// callPrint reports a command, hands it to the supervisor, logs the exit
// line, records the profile row, and triages any failure.
func (m *Manager) callPrint(cmd string, mode proc.ShellMode, nofail bool, container, lockName, errmsg string) (int, error) {
	wrapped := cmd
	if container != "" {
		wrapped = "docker exec " + container + " " + cmd
	}
	m.reportCommand(wrapped)

	res, err := m.super.Execute(cmd, mode, container)
	if err != nil {
		return res.Code, m.triageError(err, nofail, errmsg)
	}
	if !m.super.Wait {
		return res.Code, nil
	}

	m.mu.Lock()
	if res.PeakGB > m.peakMemory {
		m.peakMemory = res.PeakGB
	}
	pipelinePeak := m.peakMemory
	m.mu.Unlock()

	info := fmt.Sprintf("Process %d returned: (%d). Elapsed: %s.", res.PID, res.Code, utils.FormatDelta(res.Elapsed))
	if res.PeakGB >= 0 {
		info += fmt.Sprintf(" Peak memory: (Process: %.3fGB; Pipeline: %.3fGB)", res.PeakGB, pipelinePeak)
	}
	m.log.Print(info)

	m.reportProfile(res.Name, lockName, res.Elapsed, res.PeakGB)

	if res.Code != 0 {
		return res.Code, m.triageError(&ProcessError{Name: res.Name, Code: res.Code}, nofail, errmsg)
	}
	return res.Code, nil
}

// triageError decides what a failure means: nofail commands log and let
// the pipeline continue, unless the pipeline has already failed for other
// reasons; anything else fails the pipeline.
func (m *Manager) triageError(err error, nofail bool, errmsg string) error {
	if errmsg != "" {
		m.log.Error(errmsg)
	}
	if !nofail {
		return m.Fail(err, false)
	}
	if m.Failed() {
		m.log.Error("This is a nofail process, but the pipeline was terminated for other reasons, so we fail.")
		return err
	}
	m.log.Error(err.Error())
	m.log.Error("Subprocess returned nonzero result, but pipeline is continuing because nofail=true")
	return nil
}

// CheckOutput runs a command and returns its captured stdout, for steps
// whose result feeds back into the pipeline as a value.
func (m *Manager) CheckOutput(cmd string, mode proc.ShellMode, nofail bool, errmsg string) (string, error) {
	m.reportCommand(cmd)
	out, err := m.super.CheckOutput(cmd, mode)
	if err != nil {
		return out, m.triageError(err, nofail, errmsg)
	}
	return out, nil
}

// addLock records a lock file this process is about to own.
func (m *Manager) addLock(lockFile string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heldLocks = append(m.heldLocks, lockFile)
}

// dropLock forgets a lock file this process no longer owns.
func (m *Manager) dropLock(lockFile string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.heldLocks {
		if l == lockFile {
			m.heldLocks = append(m.heldLocks[:i], m.heldLocks[i+1:]...)
			break
		}
	}
}

// waitForLock blocks until the lock file disappears, flipping the status
// flag to waiting for the duration and emitting dot progress.
func (m *Manager) waitForLock(lockFile string) {
	w := locks.NewWaiter()
	dots := 0
	w.OnFirstWait = func(path string) {
		m.Timestamp("Waiting for file lock: " + path)
		m.setStatusIfLegal(flags.Waiting)
	}
	w.OnProgress = func() {
		m.log.PrintWithEnd(".", "")
		dots++
		if dots%60 == 0 {
			m.log.PrintWithEnd("", "\n")
		}
	}
	w.OnDone = func(string) {
		if dots > 0 {
			m.log.PrintWithEnd("", "\n")
		}
		m.Timestamp("File unlocked.")
		m.setStatusIfLegal(flags.Running)
	}
	w.WaitForAbsence(lockFile)
}

// WaitForFile blocks until an input file exists and any lock on it is
// released. Used when a pipeline consumes a file some sibling produces.
func (m *Manager) WaitForFile(path string, lockName string) {
	w := locks.NewWaiter()
	dots := 0
	w.OnFirstWait = func(p string) {
		m.Timestamp("Waiting for file: " + p)
	}
	w.OnProgress = func() {
		m.log.PrintWithEnd(".", "")
		dots++
		if dots%60 == 0 {
			m.log.PrintWithEnd("", "\n")
		}
	}
	w.OnDone = func(string) {
		if dots > 0 {
			m.log.PrintWithEnd("", "\n")
		}
		m.Timestamp("File exists.")
	}
	w.WaitForPresence(path)

	if lockName == "" {
		lockName = locks.MakeName(path, m.outfolder)
	}
	m.waitForLock(locks.Path(m.outfolder, lockName))
}

// GetContainer starts a detached container from an image, mounting each
// path at its absolute location, and registers its removal at shutdown.
// Commands that pass the returned name to Run execute inside it.
func (m *Manager) GetContainer(image string, mounts []string) (string, error) {
	cmd := "docker run -itd"
	for _, mnt := range mounts {
		abs, err := filepath.Abs(mnt)
		if err != nil {
			return "", err
		}
		cmd += " -v " + abs + ":" + abs
	}
	cmd += " " + image

	out, err := m.CheckOutput(cmd, proc.ShellGuess, false, "")
	if err != nil {
		return "", err
	}
	container := strings.TrimSpace(out)

	m.mu.Lock()
	m.container = container
	m.mu.Unlock()

	m.log.Info("Using docker container: " + container)
	m.AtexitRegister(func() { m.RemoveContainer(container) })
	return container, nil
}

// Container returns the pipeline's active container id, if any.
func (m *Manager) Container() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.container
}

// RemoveContainer force-removes a container. Failures are tolerated; this
// runs during shutdown, where a missing container is not an error worth
// failing over.
func (m *Manager) RemoveContainer(container string) {
	m.log.Info("Removing docker container...")
	if _, err := m.callPrint("docker rm -f "+container, proc.ShellGuess, true, "", "", ""); err != nil {
		m.log.Warning("Could not remove container " + container + ": " + err.Error())
	}
}

// safeWriteToFile appends one line to a shared file under the lock
// protocol, so concurrent pipelines sharing stats or figures files do not
// interleave writes.
func (m *Manager) safeWriteToFile(file, message string) error {
	lockName := locks.MakeName(file, m.outfolder)
	lockFile := locks.Path(m.outfolder, lockName)

	for {
		if locks.Exists(lockFile) {
			m.waitForLock(lockFile)
			continue
		}
		m.addLock(lockFile)
		if err := locks.CreateRaceFree(lockFile); err != nil {
			m.dropLock(lockFile)
			if errors.Is(err, locks.ErrLockExists) {
				m.log.Info("Lock file created after test! Looping again.")
				continue
			}
			return err
		}

		writeErr := appendToFile(file, message+"\n")

		if err := os.Remove(lockFile); err != nil && !os.IsNotExist(err) {
			m.log.Warning("Could not remove lock file: " + lockFile)
		}
		m.dropLock(lockFile)
		return writeErr
	}
}
