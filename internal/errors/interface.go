package errors

// ErrorCode identifies a failure independently of its message. Packages
// declare their own codes next to the operations that raise them.
type ErrorCode string

// Error is a coded failure. Callers branch on Code or HasCode rather than
// on the message text.
type Error interface {
	error
	Code() ErrorCode
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory raises coded errors: a bare code, a code around a cause, or a
// code with a replacement message or the offending value.
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
