package pipeline

import "codeberg.org/mutker/h2station/internal/errors"

const (
	ErrDuplicateTask    = errors.ErrorCode("pipeline_duplicate_task")
	ErrUnknownDep       = errors.ErrorCode("pipeline_unknown_dependency")
	ErrDependencyFailed = errors.ErrorCode("pipeline_dependency_failed")
	ErrTaskPanic        = errors.ErrorCode("pipeline_task_panic")
	ErrWriteBackoff     = errors.ErrorCode("pipeline_write_backoff")
)
