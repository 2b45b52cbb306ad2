package saga

import (
	"github.com/pkg/errors"
)

var (
	ErrRecordNotFound    = errors.New("order record not found")
	ErrRecordExists      = errors.New("order record already exists")
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// errorKind names the failure in the error field of *_FAILED envelopes
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return "RecordNotFound"
	case errors.Is(err, ErrInvalidPayload):
		return "ValidationError"
	case errors.Is(err, ErrInvalidTransition):
		return "InvalidTransition"
	default:
		return "InternalError"
	}
}

// isBusinessFailure reports errors that retrying the same message cannot fix
func isBusinessFailure(err error) bool {
	return errors.Is(err, ErrRecordNotFound) || errors.Is(err, ErrInvalidPayload)
}
