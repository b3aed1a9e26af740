package metrics

import "codeberg.org/mutker/h2station/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidListen = errors.ErrorCode("metrics_invalid_listen")

	// Registry Errors
	ErrRegister = errors.ErrorCode("metrics_register_failed")

	// Service Errors
	ErrServe           = errors.ErrorCode("metrics_serve_failed")
	ErrServiceShutdown = errors.ErrShutdownFailed
)
