// Package errors provides structured error types for the generation pipeline.
package errors

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Sentinel errors for common failure modes.
var (
	ErrEmptyResponse     = errors.New("generation service returned no text")
	ErrSchemaViolation   = errors.New("response does not match the declared output shape")
	ErrExtraction        = errors.New("no structured payload found in response")
	ErrModuleExtraction  = errors.New("module archive extraction failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotReady          = errors.New("project has no generated code yet")
	ErrProjectReplaced   = errors.New("project was replaced by a newer run")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnavailable       = errors.New("service unavailable")
	ErrPolicyMismatch    = errors.New("stage policy does not allow this call")
)

// StageError is returned when a pipeline stage violates its contract.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError wraps err with the name of the stage that produced it.
func NewStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// ExtractionError carries both the raw and the cleaned text so a failed
// parse can be diagnosed from logs alone.
type ExtractionError struct {
	Original string
	Cleaned  string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed to parse response: %v (original=%q cleaned=%q)", e.Err, truncate(e.Original, 200), truncate(e.Cleaned, 200))
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// APIError represents an error from an external API call.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// StageOf returns the failing stage name if err wraps a StageError.
func StageOf(err error) (string, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// IsTransient reports whether err is likely a transient generation-service
// failure. The pipeline never retries; this only classifies errors for metrics.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return errors.Is(err, ErrUnavailable)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
