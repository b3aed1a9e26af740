package fieldbus

import "codeberg.org/mutker/h2station/internal/errors"

const (
	ErrInvalidConfig = errors.ErrInvalidConfig

	ErrConnect   = errors.ErrorCode("fieldbus_connect_failed")
	ErrRead      = errors.ErrorCode("fieldbus_read_failed")
	ErrShortRead = errors.ErrorCode("fieldbus_short_read")
	ErrClose     = errors.ErrShutdownFailed
)
