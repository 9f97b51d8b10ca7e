package datasource

import (
	"context"
	"errors"
	"fmt"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/apperrors"
)

// ErrorClassifier extracts the vendor error code and message from a driver
// error. ok is false when err is not a vendor error.
type ErrorClassifier func(err error) (code, message string, ok bool)

// WrapError turns a driver error into an *apperrors.BackendError carrying
// the vendor code. Context errors are mapped onto ErrCancelled and
// ErrTimedOut so callers can tell them apart from backend faults.
func WrapError(backend, op string, err error, classify ErrorClassifier) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s %s: %w (%w)", backend, op, apperrors.ErrTimedOut, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s %s: %w (%w)", backend, op, apperrors.ErrCancelled, err)
	}

	be := &apperrors.BackendError{
		Backend: backend,
		Op:      op,
		Message: err.Error(),
		Err:     err,
	}
	if classify != nil {
		if code, msg, ok := classify(err); ok {
			be.Code = code
			if msg != "" {
				be.Message = msg
			}
		}
	}
	if statementTimeoutCodes[be.Code] {
		return fmt.Errorf("%w: %w", apperrors.ErrTimedOut, be)
	}
	return be
}

// statementTimeoutCodes are vendor codes raised when the backend-side
// statement timeout fires.
var statementTimeoutCodes = map[string]bool{
	"57014": true, // postgres query_canceled
}
