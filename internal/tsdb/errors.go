package tsdb

import "codeberg.org/mutker/h2station/internal/errors"

const (
	ErrInvalidConfig  = errors.ErrInvalidConfig
	ErrUnknownDriver  = errors.ErrorCode("tsdb_unknown_driver")
	ErrInvalidName    = errors.ErrorCode("tsdb_invalid_identifier")
	ErrUnknownColumn  = errors.ErrorCode("tsdb_unknown_column")
	ErrWidthMismatch  = errors.ErrorCode("tsdb_width_mismatch")
	ErrBind           = errors.ErrorCode("tsdb_bind_failed")
	ErrOpen           = errors.ErrorCode("tsdb_open_failed")
	ErrWrite          = errors.ErrorCode("tsdb_write_failed")
	ErrQuery          = errors.ErrorCode("tsdb_query_failed")
	ErrClose          = errors.ErrShutdownFailed
	ErrSchemaInit     = errors.ErrorCode("tsdb_schema_init_failed")
	ErrSchemaCheck    = errors.ErrorCode("tsdb_schema_validation_failed")
	ErrSchemaMissing  = errors.ErrorCode("tsdb_schema_missing")
	ErrSchemaMismatch = errors.ErrorCode("tsdb_schema_version_mismatch")
)
