// LOCATION: internal/errors/errors.go
//
// This file provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Error wrapping utilities
//
// The taxonomy splits three ways:
//   - recoverable ingest errors (late records): counted and reported, never fatal
//   - per-chunk stage failures (attitude gap, missing cast, projection): recorded
//     in chunk state, surfaced in the run manifest, never abort sibling chunks
//   - store integrity failures (schema mismatch, corrupt chunk): fatal for the
//     affected system dataset

package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Store errors
	ErrSchemaMismatch  = errors.New("schema mismatch")
	ErrOutOfRange      = errors.New("time range has no backing chunk")
	ErrOutOfOrder      = errors.New("append would violate time ordering")
	ErrCorruptChunk    = errors.New("corrupt chunk")
	ErrUnknownVariable = errors.New("unknown variable")
	ErrStoreClosed     = errors.New("store is closed")

	// Ingest errors
	ErrLateRecord = errors.New("record older than reorder window")

	// Stage failures (per chunk, localized)
	ErrAttitudeGap = errors.New("no attitude sample within gap tolerance")
	ErrNoSVProfile = errors.New("no sound velocity profile at or before ping time")
	ErrProjection  = errors.New("coordinate transform rejected")
	ErrAngleRange  = errors.New("corrected pointing angle out of physical range")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")

	// Lifecycle errors
	ErrNotRunning     = errors.New("not running")
	ErrAlreadyRunning = errors.New("already running")
	ErrCancelled      = errors.New("run cancelled")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// IsStageFailure returns true if err is a per-chunk stage failure.
// Stage failures are recorded in chunk state and never abort the run.
func IsStageFailure(err error) bool {
	return errors.Is(err, ErrAttitudeGap) ||
		errors.Is(err, ErrNoSVProfile) ||
		errors.Is(err, ErrProjection) ||
		errors.Is(err, ErrAngleRange)
}

// IsFatal returns true if err indicates store integrity loss. Fatal errors
// abort processing for the affected system dataset immediately - silent
// partial data would corrupt every downstream stage.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSchemaMismatch) ||
		errors.Is(err, ErrCorruptChunk)
}

// IsRecoverable returns true if err is counted and reported rather than
// propagated (late records outside the reorder window).
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrLateRecord)
}

// IsValidation returns true if err is a configuration validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the first error for errors.Is/As support.
func (v *ValidationErrors) Unwrap() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v.Errors[0]
}
