package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrDuplicateFingerprint = errors.New("an unresolved break with this fingerprint already exists")
)

// ValidationError marks a malformed source record or request field. Records
// failing validation are skipped, never fatal to a run.
type ValidationError struct {
	Record string
	ID     string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("invalid %s: %s %s", e.Record, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s %s", e.Record, e.ID, e.Field, e.Reason)
}

func invalid(record, id, field, reason string) *ValidationError {
	return &ValidationError{Record: record, ID: id, Field: field, Reason: reason}
}

// ToleranceConfigError aborts a run before matching starts.
type ToleranceConfigError struct {
	Field  string
	Reason string
}

func (e *ToleranceConfigError) Error() string {
	return fmt.Sprintf("tolerance config: %s %s", e.Field, e.Reason)
}

// PersistenceError wraps a failure to write one break and its history entry.
type PersistenceError struct {
	Fingerprint string
	TradeID     string
	Err         error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist break %s for trade %s: %v", e.Fingerprint, e.TradeID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
