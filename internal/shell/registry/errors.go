package registry

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrNotFound is returned when a deployment record is not found.
	ErrNotFound = errors.New("deployment not found")

	// ErrConnectionFailed is returned when the database connection fails.
	ErrConnectionFailed = errors.New("database connection failed")

	// ErrMigrationFailed is returned when database migration fails.
	ErrMigrationFailed = errors.New("database migration failed")

	// ErrInvalidData is returned when JSON serialization/deserialization fails.
	ErrInvalidData = errors.New("invalid data format")
)

// RegistryError wraps errors with additional context.
type RegistryError struct {
	Op      string // Operation that failed (e.g., "Upsert")
	ID      string // Deployment ID if applicable
	Message string
	Err     error
}

func (e *RegistryError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s deployment %s: %s", e.Op, e.ID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

// NewRegistryError creates a new RegistryError.
func NewRegistryError(op, id, message string, err error) *RegistryError {
	return &RegistryError{
		Op:      op,
		ID:      id,
		Message: message,
		Err:     err,
	}
}
