package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/specterops/pipemgr/internal/utils"
)

// ReportResult appends one stat row to the shared stats file, under a file
// lock, and mirrors it in memory. The annotation defaults to the pipeline
// name; "shared" exposes the row to other pipelines' GetStat.
func (m *Manager) ReportResult(key, value, annotation string) {
	if annotation == "" {
		annotation = m.name
	}
	value = strings.TrimSpace(value)

	m.mu.Lock()
	m.statsDict[key] = value
	m.mu.Unlock()

	row := fmt.Sprintf("%s\t%s\t%s", key, value, annotation)
	m.log.Print(fmt.Sprintf("> `%s`\t%s\t%s\t_RES_", key, value, annotation))

	if err := m.safeWriteToFile(m.statsFile, row); err != nil {
		m.log.Warning(err.Error())
	}
}

// ReportFigure appends one figure row to the shared figures file. Absolute
// filenames are rewritten relative to the output folder, which keeps the
// figures file portable when the folder moves.
func (m *Manager) ReportFigure(key, filename, annotation string) {
	if annotation == "" {
		annotation = m.name
	}
	filename = strings.TrimSpace(filename)

	if filepath.IsAbs(filename) {
		if rel, err := filepath.Rel(m.outfolder, filename); err == nil {
			filename = rel
		}
	}

	row := fmt.Sprintf("%s\t%s\t%s", key, filename, annotation)
	m.log.Print(fmt.Sprintf("> `%s`\t%s\t%s\t_FIG_", key, filename, annotation))

	if err := m.safeWriteToFile(m.figuresFile, row); err != nil {
		m.log.Warning(err.Error())
	}
}

// GetStat returns a previously reported stat. A miss rereads the stats
// file, keeping rows annotated with this pipeline's name or "shared", so
// stats reported by an earlier run remain reachable.
func (m *Manager) GetStat(key string) (string, bool) {
	m.mu.Lock()
	value, ok := m.statsDict[key]
	m.mu.Unlock()
	if ok {
		return value, true
	}

	m.refreshStats()

	m.mu.Lock()
	value, ok = m.statsDict[key]
	m.mu.Unlock()
	if !ok {
		m.log.Warning(fmt.Sprintf("Missing stat '%s'", key))
		return "", false
	}
	return value, true
}

// refreshStats loads the stats file rows belonging to this pipeline into
// the in-memory mirror.
func (m *Manager) refreshStats() {
	data, err := os.ReadFile(m.statsFile)
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) != 3 {
			m.log.Warning("Each row in a stats file is expected to have 3 columns")
			continue
		}
		annotation := strings.TrimSpace(cols[2])
		if annotation != m.name && annotation != "shared" {
			continue
		}
		m.mu.Lock()
		m.statsDict[strings.TrimSpace(cols[0])] = strings.TrimSpace(cols[1])
		m.mu.Unlock()
	}
}

// reportProfile appends one profile row: command, lock name, elapsed time,
// peak memory in GB. The memory column is left empty for children that
// could not be sampled.
func (m *Manager) reportProfile(command, lockName string, elapsed time.Duration, peakGB float64) {
	mem := ""
	if peakGB >= 0 {
		mem = fmt.Sprintf("%.4f", peakGB)
	}
	row := fmt.Sprintf("%s\t%s\t%s\t%s\n", command, lockName, utils.FormatDelta(elapsed), mem)
	if err := appendToFile(m.profileFile, row); err != nil {
		m.log.Warning(err.Error())
	}
}

// reportCommand echoes a command into the log and the commands file, each
// command on its own line preceded by a blank one.
func (m *Manager) reportCommand(cmd string) {
	m.log.Print("> `" + cmd + "`")
	if err := appendToFile(m.commandsFile, "\n"+cmd+"\n"); err != nil {
		m.log.Warning(err.Error())
	}
}
