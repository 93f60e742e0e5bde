// Package apperr defines sentinel errors shared across the application layers.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a missing artifact or resource.
	ErrNotFound = errors.New("not found")
	// ErrSessionNotFound indicates the referenced session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrConflict indicates an optimistic concurrency failure.
	ErrConflict = errors.New("conflict")
)

// VersionNotFoundError is returned by rollback when the requested version
// has no manifest entry. It names the version so callers can surface an
// actionable message.
type VersionNotFoundError struct {
	SessionID string
	Version   int
}

func (e *VersionNotFoundError) Error() string {
	return fmt.Sprintf("version %d not found in session %s", e.Version, e.SessionID)
}
