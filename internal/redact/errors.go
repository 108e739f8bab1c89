package redact

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when no active session matches the
	// given ID.
	ErrSessionNotFound = errors.New("redact: session not found")

	// ErrSnapshotNotFound is returned when no snapshot matches the given
	// ID. Snapshots live and die with their owning session.
	ErrSnapshotNotFound = errors.New("redact: snapshot not found")

	// ErrDetectorUnavailable signals that the contextual detector could
	// not be reached. The engine keeps serving on the fast lane alone and
	// marks snapshots as degraded.
	ErrDetectorUnavailable = errors.New("redact: contextual detector unavailable")

	// ErrDetectorTimeout signals that one contextual pass exceeded its
	// deadline and was abandoned. The next scheduled pass proceeds
	// normally.
	ErrDetectorTimeout = errors.New("redact: contextual pass timed out")

	// ErrStaleSnapshot signals that a snapshot no longer lines up with
	// its session buffer, so applying it could corrupt output.
	ErrStaleSnapshot = errors.New("redact: snapshot stale against session buffer")
)

// ValidationError reports a malformed request the caller must fix before
// retrying. The offending field is named and the reason may carry IDs,
// but never transcript text: error strings end up in logs, and logs must
// stay free of anything a detector could flag.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("redact: invalid %s: %s", e.Field, e.Reason)
}

// validationf builds a *ValidationError with a formatted reason.
func validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
