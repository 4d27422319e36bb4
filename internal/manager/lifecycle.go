package manager

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/specterops/pipemgr/internal/flags"
	"github.com/specterops/pipemgr/internal/locks"
	"github.com/specterops/pipemgr/internal/utils"
)

// Complete stops a completely finished pipeline, raising the completed flag.
func (m *Manager) Complete() error {
	return m.stop(flags.Completed)
}

// Halt stops the pipeline before its completion point, raising the paused
// flag. A halted pipeline can be resumed by a later run.
func (m *Manager) Halt() error {
	return m.stop(flags.Paused)
}

// stop is the healthy termination path: flag, cleanup, epilogue.
func (m *Manager) stop(status flags.Status) error {
	if err := m.setStatus(status); err != nil {
		return m.Fail(err, false)
	}
	m.cleanup(false)

	elapsed := utils.FormatDelta(time.Since(m.starttime))
	m.ReportResult("Time", elapsed, "")
	m.ReportResult("Success", time.Now().Format("01-02-15:04:05"), "")

	m.log.Print("\nEpilogue:")
	m.log.Print(fmt.Sprintf("* %20s:  %s", "Total elapsed time", elapsed))
	m.log.Print(fmt.Sprintf("* %20s:  %.2f GB", "Peak memory used", m.PeakMemory()))
	m.Timestamp("* Pipeline completed at: ")
	return nil
}

// Fail stops the pipeline on an error: running children are terminated
// (each with a final profile row), held locks get recovery files when the
// failure is recoverable, a dry-run cleanup produces the script without
// deleting anything, and the failed flag is raised. The originating error
// is returned for the caller to propagate.
func (m *Manager) Fail(e error, dynamicRecover bool) error {
	m.super.TerminateAll(func(name string, elapsed time.Duration, peakGB float64) {
		m.reportProfile(name, "", elapsed, peakGB)
	})

	if dynamicRecover {
		// The run was terminated, not broken: mark every held lock so
		// the next process to encounter it may seize and rerun.
		held := m.HeldLocks()
		if len(held) == 0 {
			m.log.Info("No locked process. Dynamic recovery will be automatic.")
		}
		for _, lockFile := range held {
			recoverFile := locks.RecoverPath(lockFile)
			m.log.Info("Setting dynamic recover file: " + recoverFile)
			if err := locks.Create(recoverFile); err != nil {
				m.log.Warning(err.Error())
			}
			m.dropLock(lockFile)
		}
	}

	// Build the cleanup script; delete nothing.
	m.cleanup(true)

	if !m.Failed() {
		m.Timestamp("### Pipeline failed at: ")
		m.log.Print("Total time: " + utils.FormatDelta(time.Since(m.starttime)))
		if err := m.setStatus(flags.Failed); err != nil {
			m.log.Warning(err.Error())
		}
	}

	return e
}

// watchSignals routes SIGINT and SIGTERM to the graceful-fail path.
func (m *Manager) watchSignals() {
	sig, ok := <-m.sigCh
	if !ok {
		return
	}
	m.Timestamp(fmt.Sprintf("Got %s. Failing gracefully...", signalName(sig)))
	m.Fail(errors.New("terminated by "+signalName(sig)), true)
	m.Shutdown()
	os.Exit(1)
}

func signalName(sig os.Signal) string {
	if sig == os.Interrupt {
		return "SIGINT"
	}
	return "SIGTERM"
}

// Shutdown runs the deferred exit work: registered exit functions in
// reverse order, the cleanup script finalization, and a last-resort
// failure mark when the pipeline never reached a terminal state. Safe to
// call more than once; main should defer it.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		signal.Stop(m.sigCh)
		close(m.sigCh)

		m.mu.Lock()
		funcs := append([]func(){}, m.exitFuncs...)
		m.mu.Unlock()
		for i := len(funcs) - 1; i >= 0; i-- {
			funcs[i]()
		}

		// Make the cleanup script self-destruct when someone runs it.
		if fileExists(m.cleanupFile) {
			if err := appendToFile(m.cleanupFile, "rm "+m.cleanupFile+"\n"); err != nil {
				m.log.Warning(err.Error())
			}
			if err := os.Chmod(m.cleanupFile, 0755); err != nil {
				m.log.Warning(err.Error())
			}
		}

		m.mu.Lock()
		terminal := m.flagged.Terminal()
		status := m.flagged.Status()
		m.mu.Unlock()
		if !terminal {
			m.log.Print(fmt.Sprintf("Pipeline status: %s", status))
			m.Fail(errors.New("unknown exit failure"), false)
		}

		m.log.Close()
	})
}
