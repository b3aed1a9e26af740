package telemetry

import "codeberg.org/mutker/h2station/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrorCode("telemetry_invalid_config")

	// Collection Errors
	ErrCollect = errors.ErrorCode("telemetry_collect_failed")

	// Publish Errors
	ErrEncode  = errors.ErrorCode("telemetry_encode_failed")
	ErrPublish = errors.ErrorCode("telemetry_publish_failed")

	// Operation Errors
	ErrOperationTimeout = errors.ErrTimeout
)
