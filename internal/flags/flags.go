// Package flags implements the on-disk status-flag state machine.
//
// A pipeline's current state is represented by a single flag file named
// <pipeline>_<status>.flag in the output folder. External observers (cluster
// schedulers, sibling pipelines, the watch command) read pipeline state from
// these files alone, so at most one exists per pipeline after initialization.
package flags

import (
	"fmt"
	"os"
	"path/filepath"
)

// Status is a pipeline lifecycle state.
type Status string

const (
	Initializing Status = "initializing"
	Running      Status = "running"
	Waiting      Status = "waiting"
	Paused       Status = "paused"
	Completed    Status = "completed"
	Failed       Status = "failed"
)

// Extension is the suffix of every flag file.
const Extension = ".flag"

// transitions lists the permissible moves of the state machine.
var transitions = map[Status][]Status{
	Initializing: {Running},
	Running:      {Waiting, Paused, Completed, Failed},
	Waiting:      {Running, Failed},
	Paused:       {Running, Completed, Failed},
}

// Name returns the flag-file name component for a status, e.g. "running.flag".
func Name(s Status) string {
	return string(s) + Extension
}

// FilePath returns the full flag-file path for a pipeline and status.
func FilePath(outfolder, pipeline string, s Status) string {
	return filepath.Join(outfolder, fmt.Sprintf("%s_%s", pipeline, Name(s)))
}

// List returns all flag files currently present in the output folder.
func List(outfolder string) ([]string, error) {
	return filepath.Glob(filepath.Join(outfolder, "*"+Extension))
}

// Store tracks a pipeline's status in memory and on disk.
//
// Set removes the previous flag file before creating the next one, and
// advances the in-memory field between the two steps, so an observer that
// catches the window with neither file can still ask the process.
type Store struct {
	outfolder string
	pipeline  string
	status    Status
}

// NewStore creates a Store in the initializing state. No flag file exists
// for that state; the first Set(Running) writes the first file.
func NewStore(outfolder, pipeline string) *Store {
	return &Store{
		outfolder: outfolder,
		pipeline:  pipeline,
		status:    Initializing,
	}
}

// Status returns the current in-memory status.
func (s *Store) Status() Status {
	return s.status
}

// FilePath returns the flag-file path for the given status, or the current
// status when given "".
func (s *Store) FilePath(status Status) string {
	if status == "" {
		status = s.status
	}
	return FilePath(s.outfolder, s.pipeline, status)
}

// Terminal reports whether the pipeline has been safely stopped.
func (s *Store) Terminal() bool {
	return s.status == Completed || s.status == Paused || s.status == Failed
}

// CanSet reports whether moving to next is a legal transition.
func (s *Store) CanSet(next Status) bool {
	for _, t := range transitions[s.status] {
		if t == next {
			return true
		}
	}
	return false
}

// Set advances the state machine and updates the flag file on disk.
// It returns the previous status so callers can log the transition.
func (s *Store) Set(next Status) (Status, error) {
	prev := s.status
	if !s.CanSet(next) {
		return prev, fmt.Errorf("illegal status transition: %s -> %s", prev, next)
	}

	// Remove the previous flag file. There is none to remove when coming
	// out of initialization.
	if err := os.Remove(s.FilePath(prev)); err != nil && prev != Initializing {
		if !os.IsNotExist(err) {
			return prev, fmt.Errorf("remove flag file %s: %w", s.FilePath(prev), err)
		}
	}

	s.status = next

	f, err := os.Create(s.FilePath(next))
	if err != nil {
		return prev, fmt.Errorf("create flag file %s: %w", s.FilePath(next), err)
	}
	f.Close()

	return prev, nil
}

// Clear removes every flag file belonging to this pipeline. Run at startup
// so flags from a previous interrupted run do not confuse observers.
func (s *Store) Clear() error {
	matches, err := filepath.Glob(filepath.Join(s.outfolder, s.pipeline+"_*"+Extension))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale flag %s: %w", m, err)
		}
	}
	return nil
}
