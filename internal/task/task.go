// Package task defines the contract every pool entry satisfies and the
// catalog of kinds a manifest can bind to.
//
// A task performs one bounded unit of work per RunOnce call and must wait a
// non-zero interval before returning. Workers poll their stop flag only
// between calls, so a task that blocks forever can never be stopped.
package task

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"hotpool/internal/logging"
)

// Metadata describes a loaded task.
type Metadata struct {
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description" yaml:"description"`
}

func (m Metadata) String() string {
	return fmt.Sprintf("%s %s (%s)", m.Name, m.Version, m.Description)
}

// Task is a unit of work the supervisor can run repeatedly.
type Task interface {
	Metadata() Metadata
	// RunOnce performs one unit of work, including the task's own wait.
	RunOnce()
}

// Spec is everything a factory gets to build a task.
type Spec struct {
	ID       string
	Metadata Metadata
	Interval time.Duration
	Options  yaml.Node
	Stdout   io.Writer
	Logger   logging.Logger
}

// DecodeOptions decodes the kind-specific options block into v.
func (s Spec) DecodeOptions(v any) error {
	if s.Options.Kind == 0 {
		return nil
	}
	if err := s.Options.Decode(v); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	return nil
}

// Factory builds a fresh task instance from a spec.
type Factory func(spec Spec) (Task, error)

// Handle is one loaded generation of a task.
type Handle struct {
	ID       string
	Kind     string
	Source   []byte
	LoadedAt time.Time
	task     Task
}

// NewHandle binds a task instance to its identifier.
func NewHandle(id, kind string, source []byte, t Task) *Handle {
	return &Handle{
		ID:       id,
		Kind:     kind,
		Source:   source,
		LoadedAt: time.Now(),
		task:     t,
	}
}

// Metadata returns the task's metadata.
func (h *Handle) Metadata() Metadata {
	return h.task.Metadata()
}

// RunOnce invokes the task's entry point.
func (h *Handle) RunOnce() {
	h.task.RunOnce()
}
