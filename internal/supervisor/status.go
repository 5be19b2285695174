package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Status holds the full supervisor status snapshot.
type Status struct {
	Timestamp string                `json:"ts_utc"`
	Pool      string                `json:"pool"`
	Cycle     int64                 `json:"cycle"`
	LastError string                `json:"last_error,omitempty"`
	Tasks     map[string]TaskStatus `json:"tasks"`
}

// TaskStatus holds per-task status.
type TaskStatus struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Digest      string `json:"digest"`
	Generation  string `json:"generation"`
	StartedAt   string `json:"started_at"`
	Iterations  int64  `json:"iterations"`
}

// StatusFile provides atomic JSON status file operations.
type StatusFile struct {
	path string
	mu   sync.Mutex
}

// NewStatusFile creates a new status file manager.
func NewStatusFile(path string) *StatusFile {
	return &StatusFile{path: path}
}

// Path returns the target file.
func (sf *StatusFile) Path() string {
	return sf.path
}

// Write atomically writes the status to disk.
func (sf *StatusFile) Write(status Status) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if status.Timestamp == "" {
		status.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if status.Tasks == nil {
		status.Tasks = map[string]TaskStatus{}
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	if dir := filepath.Dir(sf.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create status dir: %w", err)
		}
	}

	// Atomic write: tmp file + rename
	tmp := sf.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp status: %w", err)
	}
	return os.Rename(tmp, sf.path)
}

// Read reads the status from disk.
func (sf *StatusFile) Read() (Status, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	data, err := os.ReadFile(sf.path)
	if err != nil {
		return Status{}, err
	}

	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return Status{}, fmt.Errorf("parse status: %w", err)
	}
	return status, nil
}

func statusFromViews(pool string, cycle int64, lastErr error, views []RecordView) Status {
	status := Status{
		Pool:  pool,
		Cycle: cycle,
		Tasks: make(map[string]TaskStatus, len(views)),
	}
	if lastErr != nil {
		status.LastError = lastErr.Error()
	}
	for _, v := range views {
		status.Tasks[v.ID] = TaskStatus{
			Name:        v.Metadata.Name,
			Version:     v.Metadata.Version,
			Description: v.Metadata.Description,
			Digest:      v.Digest,
			Generation:  v.Generation,
			StartedAt:   v.StartedAt.UTC().Format(time.RFC3339),
			Iterations:  v.Iterations,
		}
	}
	return status
}
