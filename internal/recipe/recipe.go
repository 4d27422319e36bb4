// Package recipe loads YAML pipeline definitions and drives a manager
// through their stages.
//
// A recipe is the file-based face of a pipeline: an ordered list of stages,
// each a set of shell commands with a target, optional checkpoint, and
// cleanup hints. Stages run linearly; the manager's run-and-lock engine
// decides per stage whether to execute, skip, recover, or wait.
package recipe

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Recipe is a pipeline definition.
type Recipe struct {
	Name      string  `yaml:"name"`
	Version   string  `yaml:"version"`
	Outfolder string  `yaml:"outfolder"`
	Stages    []Stage `yaml:"stages"`
}

// Stage is one unit of pipeline work.
type Stage struct {
	Name string `yaml:"name"`
	// Command and Commands are alternatives; Commands wins when both are
	// set. Multiple commands run sequentially under one lock.
	Command  string   `yaml:"command"`
	Commands []string `yaml:"commands"`

	Target   string `yaml:"target"`
	LockName string `yaml:"lock_name"`

	// Shell is "guess" (default), "true"/"shell", or "false"/"direct".
	Shell     string `yaml:"shell"`
	NoFail    bool   `yaml:"nofail"`
	Errmsg    string `yaml:"errmsg"`
	Clean     bool   `yaml:"clean"`
	Container string `yaml:"container"`

	// Checkpoint true gives the stage a skip marker named after it.
	Checkpoint bool `yaml:"checkpoint"`
}

// CommandList returns the stage's commands in execution order.
func (s Stage) CommandList() []string {
	if len(s.Commands) > 0 {
		return s.Commands
	}
	if s.Command != "" {
		return []string{s.Command}
	}
	return nil
}

// Load reads and validates a recipe file.
func Load(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipe %s: %w", path, err)
	}

	var r Recipe
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse recipe %s: %w", path, err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("recipe %s: %w", path, err)
	}
	return &r, nil
}

// Validate checks the structural requirements of a recipe.
func (r *Recipe) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if len(r.Stages) == 0 {
		return fmt.Errorf("at least one stage is required")
	}
	seen := make(map[string]bool)
	for i, st := range r.Stages {
		if st.Name == "" {
			return fmt.Errorf("stage %d: name is required", i+1)
		}
		if seen[st.Name] {
			return fmt.Errorf("stage %q: duplicate stage name", st.Name)
		}
		seen[st.Name] = true
		if len(st.CommandList()) == 0 {
			return fmt.Errorf("stage %q: a command is required", st.Name)
		}
		if st.Target == "" && st.LockName == "" {
			return fmt.Errorf("stage %q: a target or lock_name is required", st.Name)
		}
	}
	return nil
}
