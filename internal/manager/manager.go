// Package manager implements the run-and-lock execution engine: the
// supervisor that decides whether to execute, skip, recover, or wait for
// each unit of work, keeps the on-disk status flags truthful, and cleans
// up children and intermediate files on every exit path.
package manager

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/specterops/pipemgr/internal/checkpoint"
	"github.com/specterops/pipemgr/internal/config"
	"github.com/specterops/pipemgr/internal/flags"
	"github.com/specterops/pipemgr/internal/logger"
	"github.com/specterops/pipemgr/internal/proc"
	"github.com/specterops/pipemgr/internal/utils"
)

// ErrMissingLockTarget reports a Run call with neither a target nor a lock
// name; there is nothing to serialize on, so the pipeline fails.
var ErrMissingLockTarget = errors.New("you must provide either a target or a lock name")

// Options configures a Manager at construction.
type Options struct {
	// Name prefixes the flag files and annotates reported stats.
	Name string
	// Outfolder holds every managed file. Created if absent.
	Outfolder string
	// OutputParent, when set, is joined in front of a relative Outfolder.
	OutputParent string
	// Version is the pipeline's own version string, recorded in the log.
	Version string
	// Args are arbitrary invocation arguments echoed into the start banner.
	Args map[string]string

	// Multi disables the log-file mirror for interactive sessions or
	// scripts driving several pipelines at once.
	Multi bool
	// ManualClean routes every cleanup to the deferred script.
	ManualClean bool
	// Recover starts the manager in overwrite-locks mode.
	Recover bool
	// ForceFollow runs follow-up callbacks even when the primary command
	// is skipped.
	ForceFollow bool
	// OverwriteCheckpoints disables the checkpoint short-circuit.
	OverwriteCheckpoints bool
	// DryRun releases children without waiting (fire-and-forget).
	DryRun bool

	Resources config.Resources
	// ConfigFile is an optional YAML file loaded into PipelineConfig.
	ConfigFile string

	// Config and Logger may be supplied by the caller; defaults are
	// built when nil.
	Config *config.Config
	Logger *logger.Logger
}

// Manager supervises one pipeline bound to one output folder.
type Manager struct {
	name      string
	outfolder string
	version   string
	args      map[string]string

	overwriteLocks       bool
	forceFollow          bool
	manualClean          bool
	overwriteCheckpoints bool
	multi                bool

	res config.Resources

	log      *logger.Logger
	flagged  *flags.Store
	registry *checkpoint.Registry
	super    *proc.Supervisor

	logFile      string
	profileFile  string
	statsFile    string
	figuresFile  string
	commandsFile string
	cleanupFile  string

	starttime     time.Time
	lastTimestamp time.Time

	mu                     sync.Mutex
	peakMemory             float64
	heldLocks              []string
	statsDict              map[string]string
	cleanupList            []string
	cleanupListConditional []string
	exitFuncs              []func()
	container              string

	// PipelineConfig holds the decoded YAML config file, when one was
	// found, for pipelines that carry tool settings there.
	PipelineConfig map[string]any

	sigCh        chan os.Signal
	shutdownOnce sync.Once
}

// New creates a Manager, prepares the output folder, installs the signal
// handlers, writes the start banner, and raises the running flag.
func New(opts Options) (*Manager, error) {
	if opts.Name == "" {
		return nil, errors.New("pipeline name is required")
	}
	if opts.Outfolder == "" {
		return nil, errors.New("output folder is required")
	}

	outfolder := opts.Outfolder
	if opts.OutputParent != "" && !filepath.IsAbs(outfolder) {
		outfolder = filepath.Join(opts.OutputParent, outfolder)
	}
	outfolder, err := filepath.Abs(outfolder)
	if err != nil {
		return nil, fmt.Errorf("resolve output folder: %w", err)
	}
	if err := os.MkdirAll(outfolder, 0755); err != nil {
		return nil, fmt.Errorf("create output folder: %w", err)
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewConfig(false, nil)
	}
	log := opts.Logger
	if log == nil {
		log = logger.New(cfg)
	}

	res := opts.Resources
	if res.Cores == 0 && res.Mem == 0 {
		res = config.DefaultResources()
	}

	m := &Manager{
		name:                 opts.Name,
		outfolder:            outfolder,
		version:              opts.Version,
		args:                 opts.Args,
		overwriteLocks:       opts.Recover,
		forceFollow:          opts.ForceFollow,
		manualClean:          opts.ManualClean,
		overwriteCheckpoints: opts.OverwriteCheckpoints,
		multi:                opts.Multi,
		res:                  res,
		log:                  log,
		flagged:              flags.NewStore(outfolder, opts.Name),
		registry:             checkpoint.NewRegistry(outfolder),
		statsDict:            make(map[string]string),
		starttime:            time.Now(),
	}
	m.lastTimestamp = m.starttime
	m.registry.Logf = func(format string, args ...any) {
		m.log.Info(fmt.Sprintf(format, args...))
	}

	m.logFile = m.pipelineFilePath(opts.Name + "_log.txt")
	m.profileFile = m.pipelineFilePath(opts.Name + "_profile.tsv")
	m.commandsFile = m.pipelineFilePath(opts.Name + "_commands.sh")
	m.cleanupFile = m.pipelineFilePath(opts.Name + "_cleanup.sh")
	// Stats and figures are general and so lack the pipeline name.
	m.statsFile = m.pipelineFilePath("stats.tsv")
	m.figuresFile = m.pipelineFilePath("figures.tsv")

	if opts.Multi {
		m.log.Warning("Running in interactive/multi mode; output is not mirrored to the pipeline log file.")
	} else if log.Path() == "" {
		if err := log.AttachFile(m.logFile); err != nil {
			return nil, err
		}
	}

	m.super = proc.NewSupervisor(log.RawWriter(), func(format string, args ...any) {
		m.log.Info(fmt.Sprintf(format, args...))
	})
	m.super.Wait = !opts.DryRun

	// Clear flags left behind by a previous run of this pipeline before
	// raising our own.
	if err := m.flagged.Clear(); err != nil {
		return nil, err
	}

	m.sigCh = make(chan os.Signal, 1)
	signal.Notify(m.sigCh, syscall.SIGINT, syscall.SIGTERM)
	go m.watchSignals()

	m.startBanner()
	if err := m.setStatus(flags.Running); err != nil {
		return nil, err
	}
	m.writeRunHeaders()

	if err := m.loadConfigFile(opts.ConfigFile); err != nil {
		m.log.Warning(err.Error())
	}

	return m, nil
}

// pipelineFilePath joins a managed file name onto the output folder.
func (m *Manager) pipelineFilePath(name string) string {
	return filepath.Join(m.outfolder, name)
}

// Name returns the pipeline name.
func (m *Manager) Name() string { return m.name }

// Outfolder returns the managed output folder.
func (m *Manager) Outfolder() string { return m.outfolder }

// Resources returns the compute hints for commands this pipeline builds.
func (m *Manager) Resources() config.Resources { return m.res }

// Logger returns the pipeline logger.
func (m *Manager) Logger() *logger.Logger { return m.log }

// Status returns the current pipeline status.
func (m *Manager) Status() flags.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flagged.Status()
}

// Completed reports whether the pipeline finished cleanly.
func (m *Manager) Completed() bool { return m.Status() == flags.Completed }

// Failed reports whether the pipeline has failed.
func (m *Manager) Failed() bool { return m.Status() == flags.Failed }

// Halted reports whether the pipeline was paused before completion.
func (m *Manager) Halted() bool { return m.Status() == flags.Paused }

// PeakMemory returns the high-water mark, in gigabytes, across all sampled
// children for the life of the run.
func (m *Manager) PeakMemory() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peakMemory
}

// HeldLocks returns a copy of the lock files this process currently owns.
func (m *Manager) HeldLocks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.heldLocks...)
}

// setStatus advances the status flag machine and logs the transition.
func (m *Manager) setStatus(next flags.Status) error {
	m.mu.Lock()
	prev, err := m.flagged.Set(next)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.log.Print(fmt.Sprintf("\nChanged status from %s to %s.", prev, next))
	return nil
}

// setStatusIfLegal performs a transition only when the machine allows it.
// The lock waiter uses this so a wait from an already-terminal state (for
// example the stats append during completion) does not trip the machine.
func (m *Manager) setStatusIfLegal(next flags.Status) {
	m.mu.Lock()
	legal := m.flagged.CanSet(next)
	m.mu.Unlock()
	if legal {
		if err := m.setStatus(next); err != nil {
			m.log.Warning(err.Error())
		}
	}
}

// startBanner records the run environment at the top of the log.
func (m *Manager) startBanner() {
	host, _ := os.Hostname()
	wd, _ := os.Getwd()

	m.log.Print("----------------------------------------")
	m.log.Print("Pipeline run code and environment:")
	m.log.Print(fmt.Sprintf("* %20s:  `%s`", "Command", strings.Join(os.Args, " ")))
	m.log.Print(fmt.Sprintf("* %20s:  %s", "Compute host", host))
	m.log.Print(fmt.Sprintf("* %20s:  %s", "Working dir", wd))
	m.log.Print(fmt.Sprintf("* %20s:  %s", "Outfolder", m.outfolder))
	m.Timestamp(fmt.Sprintf("* %20s:  ", "Pipeline started at"))

	if m.version != "" {
		m.log.Print(fmt.Sprintf("* %20s:  %s", "Pipeline version", m.version))
	}
	m.log.Print(fmt.Sprintf("* %20s:  %d", "Cores", m.res.Cores))
	m.log.Print(fmt.Sprintf("* %20s:  %s", "Memory", m.res.MemLimit()))

	if len(m.args) > 0 {
		m.log.Print("\nArguments passed to pipeline:")
		for arg, val := range m.args {
			m.log.Print(fmt.Sprintf("* %20s:  `%s`", arg, val))
		}
	}
	m.log.Print("----------------------------------------")
}

// writeRunHeaders marks the start of this run in the commands and profile
// files so their rows can be traced to a run.
func (m *Manager) writeRunHeaders() {
	header := "# Pipeline started at " + utils.FormatClock(m.starttime) + "\n\n"
	for _, file := range []string{m.commandsFile, m.profileFile} {
		if err := appendToFile(file, header); err != nil {
			m.log.Warning(err.Error())
		}
	}
}

// loadConfigFile reads an optional YAML pipeline config. A missing custom
// file is reported, not fatal; no file at all is normal.
func (m *Manager) loadConfigFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read pipeline config file %s: %w", path, err)
	}
	cfg := make(map[string]any)
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse pipeline config file %s: %w", path, err)
	}
	m.PipelineConfig = cfg
	m.log.Info("Loaded pipeline config file: " + path)
	return nil
}

// Timestamp prints the message with the current time and the time elapsed
// since the previous Timestamp call. Messages beginning with "###" are
// surrounded by blank lines for readability.
func (m *Manager) Timestamp(message string) {
	now := time.Now()
	m.mu.Lock()
	last := m.lastTimestamp
	m.lastTimestamp = now
	m.mu.Unlock()

	message += " (" + utils.FormatClock(now) + ")"
	message += " elapsed: " + utils.FormatDelta(now.Sub(last))
	message += " _TIME_"
	if strings.HasPrefix(message, "###") {
		message = "\n" + message + "\n"
	}
	m.log.Print(message)
}

// AtexitRegister defers a function to run during Shutdown, in reverse
// registration order.
func (m *Manager) AtexitRegister(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exitFuncs = append(m.exitFuncs, f)
}

// appendToFile appends text to a file, creating it if needed.
func appendToFile(path, text string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}
	return nil
}

// fileExists reports whether a regular file exists at path.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// pathExists reports whether anything exists at path, file or directory.
func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
