package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks malformed input or a rule violation the caller can fix.
	ErrValidation = errors.New("validation failed")
	// ErrPermission marks a missing capability or a lock held by another actor.
	ErrPermission = errors.New("permission denied")
	// ErrConflict marks a stale-version write rejected by the store.
	ErrConflict = errors.New("stale document version")
)

// Validationf returns an error wrapping ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Permissionf returns an error wrapping ErrPermission.
func Permissionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermission, fmt.Sprintf(format, args...))
}

// Conflictf returns an error wrapping ErrConflict.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// NotFoundf returns an error wrapping ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// IsValidation reports whether err carries ErrValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsPermission reports whether err carries ErrPermission.
func IsPermission(err error) bool { return errors.Is(err, ErrPermission) }

// IsConflict reports whether err carries ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
