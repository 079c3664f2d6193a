package security

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceTooLarge is returned when a source exceeds the configured size limit.
	ErrSourceTooLarge = errors.New("source exceeds maximum scan size")
	// ErrUnknownFramework is returned for compliance frameworks the mapper does not know.
	ErrUnknownFramework = errors.New("unknown compliance framework")
	// ErrExtractorContract is returned when a feature vector has the wrong shape.
	ErrExtractorContract = errors.New("feature extractor contract violation")
	// ErrInvalidRule is returned when a rule definition cannot be compiled.
	ErrInvalidRule = errors.New("invalid rule definition")
)

// InputError is the only failure surfaced to callers as a client error.
type InputError struct {
	Field  string
	Reason string
	Err    error
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error { return e.Err }

// NewInputError builds an InputError for a request field.
func NewInputError(field, reason string) *InputError {
	return &InputError{Field: field, Reason: reason}
}

// IsInputError reports whether err is (or wraps) an InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

// ScanError records the pipeline state a scan failed in.
type ScanError struct {
	State ScanState
	Err   error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan failed during %s: %v", e.State, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }
