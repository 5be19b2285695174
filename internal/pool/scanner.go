package pool

import (
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"

	hperrors "hotpool/internal/errors"
)

// Scanner lists task identifiers present in the pool directory. Only the
// top level is read; subdirectories are ignored. Symlinks count when they
// resolve to a regular file.
type Scanner struct {
	fs     afero.Fs
	layout Layout
}

// NewScanner creates a scanner over fs.
func NewScanner(fs afero.Fs, layout Layout) *Scanner {
	return &Scanner{fs: fs, layout: layout.WithDefaults()}
}

// Layout returns the effective layout.
func (s *Scanner) Layout() Layout {
	return s.layout
}

// Scan returns the set of public identifiers. The error is always of kind
// DirectoryUnreadable.
func (s *Scanner) Scan() (map[string]struct{}, error) {
	entries, err := afero.ReadDir(s.fs, s.layout.Dir)
	if err != nil {
		return nil, hperrors.NewPathError(hperrors.DirectoryUnreadable, s.layout.Dir, err)
	}
	ids := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if !s.regular(entry) {
			continue
		}
		if id, ok := s.layout.Identifier(entry.Name()); ok {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

func (s *Scanner) regular(entry fs.FileInfo) bool {
	if entry.Mode()&fs.ModeSymlink == 0 {
		return entry.Mode().IsRegular()
	}
	target, err := s.fs.Stat(filepath.Join(s.layout.Dir, entry.Name()))
	return err == nil && target.Mode().IsRegular()
}
