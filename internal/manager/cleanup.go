package manager

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/specterops/pipemgr/internal/flags"
)

// CleanAdd registers a glob pattern of intermediate files to delete when
// the pipeline completes successfully.
//
// Conditional patterns are only deleted if no sibling pipeline is active
// in the output folder; otherwise their removal is deferred to the cleanup
// script. Manual patterns (and every pattern, when the manager is in
// manual-clean mode) go straight to the script.
func (m *Manager) CleanAdd(pattern string, conditional, manual bool) {
	if m.manualClean {
		// Override the caller's choice and force manual cleanup.
		manual = true
	}

	if manual {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			m.log.Warning("Bad cleanup pattern '" + pattern + "': " + err.Error())
			return
		}
		for _, match := range matches {
			m.appendCleanupScript(match)
		}
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if conditional {
		m.cleanupListConditional = append(m.cleanupListConditional, pattern)
		return
	}
	m.cleanupList = append(m.cleanupList, pattern)
	// An unconditional entry supersedes any conditional one.
	kept := m.cleanupListConditional[:0]
	for _, p := range m.cleanupListConditional {
		if p != pattern {
			kept = append(kept, p)
		}
	}
	m.cleanupListConditional = kept
}

// appendCleanupScript adds the rm/rmdir lines for one matched path to the
// deferred cleanup script.
func (m *Manager) appendCleanupScript(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	var lines string
	if info.IsDir() {
		lines = "rm " + path + "/*\nrmdir " + path + "\n"
	} else {
		lines = "rm " + path + "\n"
	}
	if err := appendToFile(m.cleanupFile, lines); err != nil {
		m.log.Warning(err.Error())
	}
}

// cleanup removes registered intermediate files. On dry runs (the failure
// path) nothing is deleted: unconditional patterns are folded into the
// conditional list and end up in the cleanup script, so an interrupted run
// leaves its artifacts intact.
func (m *Manager) cleanup(dryRun bool) {
	m.mu.Lock()
	if dryRun && len(m.cleanupList) > 0 {
		m.cleanupListConditional = append(m.cleanupListConditional, m.cleanupList...)
		m.cleanupList = nil
	}
	unconditional := append([]string(nil), m.cleanupList...)
	conditional := append([]string(nil), m.cleanupListConditional...)
	m.cleanupList = nil
	m.mu.Unlock()

	if len(unconditional) > 0 {
		m.log.Print("\nCleaning up flagged intermediate files...")
		for _, pattern := range unconditional {
			m.removeGlob(pattern)
		}
	}

	if len(conditional) == 0 {
		return
	}

	// Conditional cleanup only proceeds when no other pipeline is active
	// here: any flag file that is neither a completed flag nor our own
	// running flag blocks it.
	blocking := m.blockingFlags()
	if len(blocking) == 0 && !dryRun {
		m.log.Print("\nCleaning up conditional list...")
		for _, pattern := range conditional {
			m.removeGlob(pattern)
		}
		m.mu.Lock()
		m.cleanupListConditional = nil
		m.mu.Unlock()
		return
	}

	if len(blocking) > 0 {
		names := make([]string, len(blocking))
		for i, b := range blocking {
			names[i] = filepath.Base(b)
		}
		m.log.Print("\nConditional flag found: [" + strings.Join(names, ", ") + "]")
		m.log.Print("These conditional files were left in place: [" + strings.Join(conditional, ", ") + "]")
	}
	for _, pattern := range conditional {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			m.log.Warning("Could not produce cleanup script for item '" + pattern + "', skipping")
			continue
		}
		for _, match := range matches {
			m.appendCleanupScript(match)
		}
	}
}

// blockingFlags lists the flag files that forbid conditional cleanup.
func (m *Manager) blockingFlags() []string {
	all, err := flags.List(m.outfolder)
	if err != nil {
		return nil
	}
	ownRunning := filepath.Base(m.flagged.FilePath(flags.Running))
	var blocking []string
	for _, f := range all {
		base := filepath.Base(f)
		if strings.Contains(base, string(flags.Completed)) {
			continue
		}
		if base == ownRunning {
			continue
		}
		blocking = append(blocking, f)
	}
	return blocking
}

// removeGlob deletes every file matching a pattern, and removes matched
// directories once empty.
func (m *Manager) removeGlob(pattern string) {
	m.log.Print("\nRemoving glob: " + pattern)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		m.log.Warning("Bad cleanup pattern '" + pattern + "': " + err.Error())
		return
	}
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		if info.IsDir() {
			m.log.Print("`rmdir " + match + "`")
			if err := os.Remove(match); err != nil {
				m.log.Warning(err.Error())
			}
		} else {
			m.log.Print("`rm " + match + "`")
			if err := os.Remove(match); err != nil {
				m.log.Warning(err.Error())
			}
		}
	}
}
