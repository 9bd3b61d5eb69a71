package escalation

import (
	"errors"
	"fmt"

	"github.com/myle1996kh/base-chatbot/internal/shared"
)

// Code classifies an escalation failure.
type Code string

const (
	CodeNotFound         Code = "not_found"
	CodeInvalidState     Code = "invalid_state"
	CodeAlreadyEscalated Code = "already_escalated"
	CodeNotEscalated     Code = "not_escalated"
	CodeStaffUnavailable Code = "staff_unavailable"
	CodePermissionDenied Code = "permission_denied"
	CodeStoreUnavailable Code = "store_unavailable"
	CodeInvalidArgument  Code = "invalid_argument"
)

// Error is the typed failure returned by Service operations.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code. AlreadyEscalated and
// NotEscalated also match InvalidState.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == e.Code {
		return true
	}
	return t.Code == CodeInvalidState && (e.Code == CodeAlreadyEscalated || e.Code == CodeNotEscalated)
}

// Sentinels for errors.Is.
var (
	ErrNotFound         = &Error{Code: CodeNotFound}
	ErrInvalidState     = &Error{Code: CodeInvalidState}
	ErrAlreadyEscalated = &Error{Code: CodeAlreadyEscalated}
	ErrNotEscalated     = &Error{Code: CodeNotEscalated}
	ErrStaffUnavailable = &Error{Code: CodeStaffUnavailable}
	ErrPermissionDenied = &Error{Code: CodePermissionDenied}
	ErrStoreUnavailable = &Error{Code: CodeStoreUnavailable}
	ErrInvalidArgument  = &Error{Code: CodeInvalidArgument}
)

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// storeError wraps a repository failure. Connectivity and lock contention
// become StoreUnavailable so callers know the operation may be retried.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if shared.IsUnavailableError(err) {
		return &Error{Code: CodeStoreUnavailable, Message: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
