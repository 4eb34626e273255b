package chessdto

import (
	"errors"

	"github.com/park285/chess-live/internal/domain"
)

// Error codes exposed to outer layers.
const (
	CodeInvalidInput  = "INVALID_INPUT"
	CodeIllegalMove   = "ILLEGAL_MOVE"
	CodeNotInProgress = "NOT_IN_PROGRESS"
	CodeNotFound      = "NOT_FOUND"
	CodeConflict      = "CONFLICT"
	CodeInternal      = "INTERNAL"
)

type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "chess service error"
}

// FromError classifies err into a DomainError. Only unclassified errors are
// marked retryable.
func FromError(err error) DomainError {
	if err == nil {
		return DomainError{}
	}
	var de DomainError
	if errors.As(err, &de) {
		return de
	}
	code := CodeInternal
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		code = CodeInvalidInput
	case errors.Is(err, domain.ErrIllegalMove):
		code = CodeIllegalMove
	case errors.Is(err, domain.ErrNotInProgress):
		code = CodeNotInProgress
	case errors.Is(err, domain.ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, domain.ErrConflict):
		code = CodeConflict
	}
	return DomainError{Code: code, Message: err.Error(), Retryable: code == CodeInternal}
}
