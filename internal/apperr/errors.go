// Package apperr defines the error taxonomy shared by the sync engine.
//
// The orchestrator decides how far an error propagates by its type:
// configuration errors abort the run, external-service and validation
// errors are recorded against a single record, and conflicts reject a
// link write while leaving the existing link in place.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// ConfigurationError reports a missing or rejected credential or setting.
type ConfigurationError struct {
	System string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("%s: configuration error: %s", e.System, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NotConfigured is the ConfigurationError returned by clients whose
// credentials are absent.
func NotConfigured(system string) error {
	return &ConfigurationError{System: system, Reason: "not configured"}
}

// ExternalServiceError wraps a failed call to an upstream system.
type ExternalServiceError struct {
	System     string
	Op         string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *ExternalServiceError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s: %s: timed out", e.System, e.Op)
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: %s: status %d: %v", e.System, e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s: status %d", e.System, e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.System, e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s: failed", e.System, e.Op)
	}
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// ValidationError marks a record that cannot be processed as received.
type ValidationError struct {
	Entity string
	ID     string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s %q: %s %s", e.Entity, e.ID, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Entity, e.ID, e.Reason)
}

// ConflictError is returned when a link write would break the one active
// link per side rule. The existing link is left untouched.
type ConflictError struct {
	PatientID         string
	System            string
	ExternalID        string
	ExistingPatientID string
	ExistingExternal  string
}

func (e *ConflictError) Error() string {
	if e.ExistingPatientID != "" && e.ExistingPatientID != e.PatientID {
		return fmt.Sprintf("link conflict: %s record %s already linked to patient %s",
			e.System, e.ExternalID, e.ExistingPatientID)
	}
	return fmt.Sprintf("link conflict: patient %s already linked to %s record %s",
		e.PatientID, e.System, e.ExistingExternal)
}

// IsFatal reports whether err must abort the whole run.
func IsFatal(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// IsConflict reports whether err is a link conflict.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// External classifies a transport-level failure. Deadline errors become
// timeouts; anything already typed passes through unchanged.
func External(system, op string, err error) error {
	if err == nil {
		return nil
	}
	var ext *ExternalServiceError
	var cfgErr *ConfigurationError
	if errors.As(err, &ext) || errors.As(err, &cfgErr) {
		return err
	}
	return &ExternalServiceError{
		System:  system,
		Op:      op,
		Timeout: errors.Is(err, context.DeadlineExceeded),
		Err:     err,
	}
}
