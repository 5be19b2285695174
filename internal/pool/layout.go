// Package pool knows how task sources are laid out on disk: which files are
// tasks, what identifier each maps to, and whether its bytes changed.
package pool

import (
	"path/filepath"
	"strings"
)

const (
	DefaultExtension     = ".task"
	DefaultPrivateMarker = "__"
)

// Layout describes the pool directory contract.
type Layout struct {
	Dir           string
	Extension     string
	PrivateMarker string
}

// WithDefaults fills empty fields.
func (l Layout) WithDefaults() Layout {
	if l.Extension == "" {
		l.Extension = DefaultExtension
	}
	if !strings.HasPrefix(l.Extension, ".") {
		l.Extension = "." + l.Extension
	}
	if l.PrivateMarker == "" {
		l.PrivateMarker = DefaultPrivateMarker
	}
	return l
}

// Path returns the source path for an identifier.
func (l Layout) Path(id string) string {
	return filepath.Join(l.Dir, id+l.Extension)
}

// Identifier maps a file name to its task identifier. ok is false for names
// that are not public task sources.
func (l Layout) Identifier(name string) (id string, ok bool) {
	if strings.HasPrefix(name, ".") {
		return "", false
	}
	if !strings.HasSuffix(name, l.Extension) {
		return "", false
	}
	if l.PrivateMarker != "" && strings.Contains(name, l.PrivateMarker) {
		return "", false
	}
	id = strings.TrimSuffix(name, l.Extension)
	if id == "" {
		return "", false
	}
	return id, true
}
