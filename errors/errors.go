// Package errors provides typed error handling for containerv, protecc and
// bpf-manager.
//
// This package defines domain-specific error types that enable better error
// classification, debugging, and user feedback. All errors support the standard
// errors.Is() and errors.As() functions for error inspection.
package errors

import (
	"errors"
	"fmt"
)

// ErrorKind represents the category of an error, matching the taxonomy
// shared by protecc, containerv and bpf-manager.
type ErrorKind int

const (
	// InvalidArgument indicates a caller-supplied argument failed validation.
	InvalidArgument ErrorKind = iota
	// InvalidPattern indicates a glob pattern failed to parse.
	InvalidPattern
	// InvalidProfile indicates a compiled profile buffer is malformed.
	InvalidProfile
	// OutOfMemory indicates an allocation limit was exceeded during compilation.
	OutOfMemory
	// NotSupported indicates the host/kernel lacks a required feature.
	NotSupported
	// CompileFailed indicates pattern/DFA compilation failed for a reason
	// other than invalid input (e.g. a state-count cap was hit).
	CompileFailed
	// Busy indicates a resource is locked by a concurrent operation.
	Busy
	// NotFound indicates a resource was not found.
	NotFound
	// Io indicates a filesystem, mount, or syscall failure.
	Io
	// Transient indicates a retryable failure (e.g. a download or network op).
	Transient
)

// String returns a human-readable name for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid argument"
	case InvalidPattern:
		return "invalid pattern"
	case InvalidProfile:
		return "invalid profile"
	case OutOfMemory:
		return "out of memory"
	case NotSupported:
		return "not supported"
	case CompileFailed:
		return "compile failed"
	case Busy:
		return "busy"
	case NotFound:
		return "not found"
	case Io:
		return "io error"
	case Transient:
		return "transient error"
	default:
		return "unknown error"
	}
}

// ContainerError represents an error raised by containerv, protecc, or
// bpf-manager. The field name predates the package covering three
// subsystems; it remains Container for compatibility with existing call
// sites that reference "the subject id" (container, profile, or cgroup id).
type ContainerError struct {
	// Op is the operation that failed (e.g., "create", "compile", "populate_policy").
	Op string
	// Container is the subject id, if applicable: container id, profile
	// name, or cgroup id depending on which subsystem raised the error.
	Container string
	// Err is the underlying error.
	Err error
	// Kind is the error classification.
	Kind ErrorKind
	// Detail provides additional context about the error.
	Detail string
}

// Error returns the error message.
func (e *ContainerError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var msg string
	if e.Container != "" {
		msg = fmt.Sprintf("%s: ", e.Container)
	}
	if e.Op != "" {
		msg += fmt.Sprintf("%s: ", e.Op)
	}
	if e.Detail != "" {
		msg += e.Detail
	} else {
		msg += e.Kind.String()
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ContainerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether the error matches the target.
// It matches if the target is a *ContainerError with the same Kind,
// or if the underlying error matches.
func (e *ContainerError) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if t, ok := target.(*ContainerError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates a new ContainerError with the given kind.
func New(kind ErrorKind, op string, detail string) *ContainerError {
	return &ContainerError{
		Op:     op,
		Kind:   kind,
		Detail: detail,
	}
}

// Wrap wraps an error with container context.
func Wrap(err error, kind ErrorKind, op string) *ContainerError {
	return &ContainerError{
		Op:   op,
		Err:  err,
		Kind: kind,
	}
}

// WrapWithContainer wraps an error with container context and ID.
func WrapWithContainer(err error, kind ErrorKind, op string, containerID string) *ContainerError {
	return &ContainerError{
		Op:        op,
		Container: containerID,
		Err:       err,
		Kind:      kind,
	}
}

// WrapWithDetail wraps an error with additional detail.
func WrapWithDetail(err error, kind ErrorKind, op string, detail string) *ContainerError {
	return &ContainerError{
		Op:     op,
		Err:    err,
		Kind:   kind,
		Detail: detail,
	}
}

// IsKind checks if an error is of a specific kind.
func IsKind(err error, kind ErrorKind) bool {
	var cerr *ContainerError
	if errors.As(err, &cerr) {
		return cerr.Kind == kind
	}
	return false
}

// GetKind returns the error kind if the error is a ContainerError.
func GetKind(err error) (ErrorKind, bool) {
	var cerr *ContainerError
	if errors.As(err, &cerr) {
		return cerr.Kind, true
	}
	return 0, false
}

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)
