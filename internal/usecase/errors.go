package usecase

import "fmt"

type ErrorCode string

const (
	ErrorAuthMissing   ErrorCode = "AUTH_MISSING"
	ErrorAuthInvalid   ErrorCode = "AUTH_INVALID"
	ErrorInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrorUpstream      ErrorCode = "UPSTREAM_ERROR"
	ErrorConfiguration ErrorCode = "CONFIGURATION_ERROR"
	ErrorInternal      ErrorCode = "INTERNAL_ERROR"
)

// Error is the typed failure returned by ChatService. Reason is a stable
// snake_case tag for logs; Detail is safe to show to the caller.
type Error struct {
	Code   ErrorCode
	Reason string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason, detail string, err error) *Error {
	return &Error{Code: code, Reason: reason, Detail: detail, Err: err}
}
