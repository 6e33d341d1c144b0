// Package checkpoint records the progress of an in-flight indexing run
// so an interrupted run can resume without reprocessing files. A
// checkpoint is written after every committed batch and removed only
// when a run finishes without fatal error.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"photoatlas/internal/logging"
	"photoatlas/internal/metrics"
)

// Checkpoint is the durable record of an in-progress run.
type Checkpoint struct {
	RunID          string    `json:"run_id"`
	ProcessedPaths []string  `json:"processed_paths"`
	PendingBatch   []string  `json:"pending_batch,omitempty"`
	SavedAt        time.Time `json:"saved_at"`
}

// Manager owns the checkpoint side file for one store location.
type Manager struct {
	path  string
	runID string
}

// NewManager creates a manager for the checkpoint file at path. Each
// manager carries a fresh run identity; resuming adopts the saved one.
func NewManager(path string) *Manager {
	return &Manager{
		path:  path,
		runID: uuid.NewString(),
	}
}

// RunID returns the identity of the current logical run.
func (m *Manager) RunID() string {
	return m.runID
}

// Load reads an existing checkpoint. Returns nil with no error when no
// checkpoint exists. An unparseable file is an error: checkpoints are
// written atomically, so corruption is abnormal and silently dropping
// the processed set could reprocess a large run's worth of work. The
// file is safe to delete by hand to force a fresh run.
func (m *Manager) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Debug("No checkpoint file at %s", m.path)
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: read %s: %w", m.path, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint: corrupt file %s (delete it to force a fresh run): %w", m.path, err)
	}

	if cp.RunID != "" {
		m.runID = cp.RunID
	}

	logging.Info("Resuming from checkpoint: %d files already processed", len(cp.ProcessedPaths))
	return &cp, nil
}

// Save writes the checkpoint atomically (temp file then rename). It is
// called once per committed batch; losing the very latest save on crash
// costs at most one batch of redundant re-extraction, which path
// deduplication absorbs.
func (m *Manager) Save(processedPaths []string, pendingBatch []string) error {
	cp := Checkpoint{
		RunID:          m.runID,
		ProcessedPaths: processedPaths,
		PendingBatch:   pendingBatch,
		SavedAt:        time.Now(),
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("checkpoint: create workspace dir: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("checkpoint: rename into place: %w", err)
	}

	metrics.CheckpointSavesTotal.Inc()
	logging.Debug("Checkpoint saved: %d processed, %d pending", len(processedPaths), len(pendingBatch))
	return nil
}

// Clear removes the checkpoint file. Called only after a run completes
// with no fatal error; a missing file is not an error.
func (m *Manager) Clear() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("checkpoint: remove %s: %w", m.path, err)
	}
	logging.Debug("Checkpoint cleared")
	return nil
}
