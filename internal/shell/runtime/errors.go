package runtime

import (
	"errors"
	"fmt"
)

// Common runtime errors.
var (
	ErrUnavailable            = errors.New("runtime unavailable")
	ErrContainerNotFound      = errors.New("container not found")
	ErrContainerAlreadyExists = errors.New("container already exists")
	ErrImageNotFound          = errors.New("image not found")
	ErrImagePull              = errors.New("image pull failed")
	ErrPortAllocated          = errors.New("port already allocated")
	ErrConnectionFailed       = errors.New("runtime connection failed")
)

// RuntimeError provides structured error information for runtime operations.
type RuntimeError struct {
	Op      string // Operation that failed (e.g., "create", "start", "pull")
	Ref     string // Container or image reference involved
	Message string // Human-readable error message
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("runtime %s %s: %s", e.Op, e.Ref, e.Message)
	}
	return fmt.Sprintf("runtime %s: %s", e.Op, e.Message)
}

// Unwrap returns the underlying error.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError.
func NewRuntimeError(op, ref, message string, err error) *RuntimeError {
	return &RuntimeError{
		Op:      op,
		Ref:     ref,
		Message: message,
		Err:     err,
	}
}
