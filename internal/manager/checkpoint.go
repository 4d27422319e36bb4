package manager

import "github.com/specterops/pipemgr/internal/checkpoint"

// Checkpoint records that a named stage completed, creating or refreshing
// its marker file. Returns true iff the marker already existed.
func (m *Manager) Checkpoint(stage string) (bool, error) {
	return m.registry.Checkpoint(stage)
}

// CheckpointStage records a checkpoint for a structured stage; stages with
// Checkpoint=false are ignored.
func (m *Manager) CheckpointStage(st checkpoint.Stage) (bool, error) {
	return m.registry.CheckpointStage(st)
}

// TouchCheckpoint designates a checkpoint by explicit file name or path.
// An absolute path must lie directly in the output folder.
func (m *Manager) TouchCheckpoint(path string) (bool, error) {
	return m.registry.Touch(path)
}
