package errors

import (
	"errors"
	"fmt"
)

// Chain helpers re-exported so callers need a single errors import.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// appError is the coded error every package of the daemon returns. data
// carries the offending value (a table, a column, a register range) and
// takes precedence over the wrapped cause in the message.
type appError struct {
	code    ErrorCode
	message string
	err     error
	data    any
}

func (e *appError) Error() string {
	msg := e.message
	if msg == "" {
		msg = GetErrorMessage(e.code)
	}

	if e.data != nil {
		return fmt.Sprintf("%s: %v", msg, e.data)
	}

	if e.err != nil {
		return fmt.Sprintf("%s: %v", msg, e.err)
	}

	return msg
}

func (e *appError) Code() ErrorCode {
	return e.code
}

func (e *appError) WithMessage(msg string) Error {
	return &appError{
		code:    e.code,
		message: msg,
		err:     e.err,
		data:    e.data,
	}
}

func (e *appError) WithData(data any) Error {
	return &appError{
		code:    e.code,
		message: e.message,
		err:     e.err,
		data:    data,
	}
}

func (e *appError) GetData() any {
	return e.data
}

func (e *appError) Unwrap() error {
	return e.err
}

type codeFactory struct{}

func (*codeFactory) New(code ErrorCode) Error {
	return &appError{
		code: code,
	}
}

func (*codeFactory) Wrap(code ErrorCode, err error) Error {
	return &appError{
		code: code,
		err:  err,
	}
}

func (*codeFactory) WithMessage(code ErrorCode, msg string) Error {
	return &appError{
		code:    code,
		message: msg,
	}
}

func (*codeFactory) WithData(code ErrorCode, data any) Error {
	return &appError{
		code: code,
		data: data,
	}
}

// New returns the factory packages use to raise their coded errors.
func New() Factory {
	return &codeFactory{}
}

// HasCode reports whether err or anything it wraps carries code. Joined
// errors are searched branch by branch, so a code raised by one task of a
// tick is found in the tick's combined error.
func HasCode(err error, code ErrorCode) bool {
	switch e := err.(type) {
	case nil:
		return false
	case Error:
		return e.Code() == code || HasCode(e.Unwrap(), code)
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if HasCode(inner, code) {
				return true
			}
		}
		return false
	case interface{ Unwrap() error }:
		return HasCode(e.Unwrap(), code)
	default:
		return false
	}
}
