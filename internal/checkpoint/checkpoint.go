// Package checkpoint provides per-stage skip markers for resumable pipelines.
//
// A checkpoint file is a zero-byte marker named <stage>.checkpoint in the
// output folder. Its presence means the stage completed in a previous run
// and may be skipped on re-entry.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Extension is the suffix of every checkpoint file.
const Extension = ".checkpoint"

// ErrOutsideOutfolder reports an absolute checkpoint path that does not lie
// directly in the pipeline output folder.
var ErrOutsideOutfolder = errors.New("checkpoint file is not in the pipeline output folder")

// Stage describes a named pipeline phase. Checkpoint set to false marks a
// phase that should never produce a skip marker.
type Stage struct {
	Name       string
	Checkpoint bool
}

// TranslateName normalizes a stage name into its file slug: whitespace runs
// collapse to single underscores and the result is lowercased.
func TranslateName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), "_"))
}

// FileName returns the checkpoint file name for a stage name, normalizing
// the name first.
func FileName(stage string) string {
	return TranslateName(stage) + Extension
}

// FilePath returns the checkpoint file path for a stage within an output
// folder. An absolute stage argument passes through untouched.
func FilePath(outfolder, stage string) string {
	if filepath.IsAbs(stage) {
		return stage
	}
	return filepath.Join(outfolder, FileName(stage))
}

// Registry creates and detects checkpoint files for one output folder.
type Registry struct {
	outfolder string

	// Logf receives the registry's human-readable notices. Defaults to
	// discarding them.
	Logf func(format string, args ...any)
}

// NewRegistry creates a Registry rooted at outfolder.
func NewRegistry(outfolder string) *Registry {
	return &Registry{
		outfolder: outfolder,
		Logf:      func(string, ...any) {},
	}
}

// CheckpointStage records a checkpoint for a structured stage. Stages marked
// Checkpoint=false are skipped without touching disk.
func (r *Registry) CheckpointStage(st Stage) (bool, error) {
	if !st.Checkpoint {
		r.Logf("Not a checkpoint: %s", st.Name)
		return false, nil
	}
	return r.Checkpoint(st.Name)
}

// Checkpoint records a checkpoint for a stage name, creating (or refreshing)
// its marker file. It returns true iff the file already existed.
//
// A name that looks like a file name or path gets a warning; such callers
// should use Touch with an explicit path instead.
func (r *Registry) Checkpoint(stage string) (bool, error) {
	if !filepath.IsAbs(stage) {
		base := strings.TrimSuffix(stage, filepath.Ext(stage))
		if filepath.Ext(stage) != "" && !strings.Contains(base, ".") {
			r.Logf("'%s' looks like it may be the name or path of a file; for such a checkpoint, use Touch", stage)
		}
	}

	r.Logf("Checkpointing: '%s'", stage)
	return r.Touch(FilePath(r.outfolder, stage))
}

// Touch creates the checkpoint file at path, or refreshes its mtime if it
// already exists. The return value reports whether the file already existed.
//
// An absolute path must point directly into the output folder; anywhere
// else is rejected with ErrOutsideOutfolder.
func (r *Registry) Touch(path string) (bool, error) {
	if filepath.IsAbs(path) {
		if filepath.Clean(filepath.Dir(path)) != filepath.Clean(r.outfolder) {
			return false, fmt.Errorf("%w: '%s' is not in '%s'", ErrOutsideOutfolder, path, r.outfolder)
		}
	} else {
		path = filepath.Join(r.outfolder, path)
	}

	_, statErr := os.Stat(path)
	existed := statErr == nil

	f, err := os.Create(path)
	if err != nil {
		return existed, fmt.Errorf("touch checkpoint %s: %w", path, err)
	}
	f.Close()

	if existed {
		r.Logf("Updated checkpoint file: '%s'", path)
	} else {
		r.Logf("Created checkpoint file: '%s'", path)
	}
	return existed, nil
}

// Exists reports whether a checkpoint file with the given file name is
// present in the output folder. The name is used verbatim: a stage name is
// not slugged and gets no extension added.
func (r *Registry) Exists(name string) bool {
	info, err := os.Stat(filepath.Join(r.outfolder, name))
	return err == nil && !info.IsDir()
}

// CandidateFiles builds the checkpoint file names run() consults before
// executing: the explicit filename verbatim when given, otherwise both the
// raw stage name and its normalized slug, each with the extension.
func CandidateFiles(checkpointName, checkpointFilename string) []string {
	if checkpointFilename != "" {
		return []string{checkpointFilename}
	}
	if checkpointName == "" {
		return nil
	}
	raw := checkpointName + Extension
	slug := FileName(checkpointName)
	if raw == slug {
		return []string{raw}
	}
	return []string{raw, slug}
}
