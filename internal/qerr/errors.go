package qerr

import "fmt"

// An Error carries an ErrorCode and an optional message.
type Error struct {
	Code    ErrorCode
	Message string
}

var _ error = &Error{}

// NewError returns an error with the given code and no message.
func NewError(code ErrorCode) *Error {
	return &Error{Code: code}
}

// NewErrorf returns an error with the given code and a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is makes errors.Is match any *Error with the same code, so sentinel
// errors like ErrWouldBlock compare by code rather than by identity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// ErrWouldBlock is returned by non-blocking operations that cannot make
// progress yet. It is the only non-fatal error of the client.
var ErrWouldBlock = NewError(WouldBlock)

// ErrTimeout is returned once a phase or exchange deadline has passed.
var ErrTimeout = NewError(Timeout)
