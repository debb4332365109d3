package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Checkpoint persists a subject's position between runs of a session. It
// records redo steps that leave no trace in the sync log.
type Checkpoint struct {
	path string
}

type checkpointState struct {
	Position
	Complete  bool      `json:"complete"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCheckpoint stores the checkpoint of subjectID as dir/<subject>.json.
func NewCheckpoint(dir, subjectID string) *Checkpoint {
	return &Checkpoint{path: filepath.Join(dir, subjectID+".json")}
}

// Path returns the checkpoint file.
func (c *Checkpoint) Path() string { return c.path }

// Save replaces the stored position.
func (c *Checkpoint) Save(pos Position, complete bool) error {
	data, err := json.MarshalIndent(checkpointState{Position: pos, Complete: complete, UpdatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), "."+filepath.Base(c.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return os.Rename(tmp.Name(), c.path)
}

// Load returns the stored position. ok is false when nothing was saved.
func (c *Checkpoint) Load() (pos Position, complete bool, ok bool, err error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return Position{}, false, false, nil
	}
	if err != nil {
		return Position{}, false, false, fmt.Errorf("read checkpoint: %w", err)
	}
	var state checkpointState
	if err := json.Unmarshal(data, &state); err != nil {
		return Position{}, false, false, fmt.Errorf("parse checkpoint %s: %w", c.path, err)
	}
	return state.Position, state.Complete, true, nil
}
