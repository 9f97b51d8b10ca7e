package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrBackendNotFound   = errors.New("backend not configured")
	ErrCancelled         = errors.New("execution cancelled")
	ErrTimedOut          = errors.New("execution timed out")
	ErrSecurityRejected  = errors.New("query rejected by security check")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrTooManyExecutions = errors.New("too many concurrent executions")
)

// SecurityRejectedError is returned when the static security check blocks a
// query. It is a distinct outcome from a backend failure.
type SecurityRejectedError struct {
	RiskLevel  string
	Violations []string
}

func (e *SecurityRejectedError) Error() string {
	return fmt.Sprintf("query rejected (risk %s): %s", e.RiskLevel, strings.Join(e.Violations, "; "))
}

func (e *SecurityRejectedError) Unwrap() error {
	return ErrSecurityRejected
}

// BackendError wraps a connection or execution fault from a relational
// backend, preserving the vendor error code.
type BackendError struct {
	Backend string
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s failed [%s]: %s", e.Backend, e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Backend, e.Op, e.Message)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
