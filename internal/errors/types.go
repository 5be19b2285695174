package errors

import (
	"errors"
	"fmt"
)

// Kind classifies supervisor failures by where they originate.
type Kind int

const (
	// KindUnknown is reported for errors that carry no supervisor classification.
	KindUnknown Kind = iota
	// DirectoryUnreadable - the pool directory is missing or cannot be listed
	DirectoryUnreadable
	// DigestUnreadable - a task source could not be read for fingerprinting
	DigestUnreadable
	// LoadFailure - a task source could not be parsed or initialized
	LoadFailure
	// MissingEntryPoint - a task source does not name a runnable entry point
	MissingEntryPoint
	// MissingMetadata - a task source lacks required metadata fields
	MissingMetadata
)

func (k Kind) String() string {
	switch k {
	case DirectoryUnreadable:
		return "directory_unreadable"
	case DigestUnreadable:
		return "digest_unreadable"
	case LoadFailure:
		return "load_failure"
	case MissingEntryPoint:
		return "missing_entry_point"
	case MissingMetadata:
		return "missing_metadata"
	default:
		return "unknown"
	}
}

// Scope describes how far an error's effect reaches.
type Scope int

const (
	// ScopeCycle errors abort or degrade the current scan cycle only.
	ScopeCycle Scope = iota
	// ScopeIdentifier errors affect a single task identifier.
	ScopeIdentifier
)

// Scope reports the blast radius of the kind. Nothing is process-fatal.
func (k Kind) Scope() Scope {
	switch k {
	case LoadFailure, MissingEntryPoint, MissingMetadata:
		return ScopeIdentifier
	default:
		return ScopeCycle
	}
}

// Error is a classified supervisor error.
type Error struct {
	Kind Kind
	ID   string // task identifier, empty for pool-level errors
	Path string
	Err  error
}

func (e *Error) Error() string {
	var subject string
	switch {
	case e.ID != "":
		subject = fmt.Sprintf("task %q", e.ID)
	case e.Path != "":
		subject = e.Path
	default:
		subject = "pool"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", subject, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", subject, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: k})
// works as a kind check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.ID == "" || t.ID == e.ID)
}

// New builds a classified error for a task identifier.
func New(kind Kind, id string, err error) *Error {
	return &Error{Kind: kind, ID: id, Err: err}
}

// NewPathError builds a classified error for a filesystem path.
func NewPathError(kind Kind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

// Newf builds a classified error with a formatted cause.
func Newf(kind Kind, id, format string, args ...any) *Error {
	return &Error{Kind: kind, ID: id, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the classification from an error chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsIdentifierLocal reports whether err only affects one task identifier.
func IsIdentifierLocal(err error) bool {
	kind := KindOf(err)
	return kind != KindUnknown && kind.Scope() == ScopeIdentifier
}
