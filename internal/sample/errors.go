package sample

import "codeberg.org/mutker/h2station/internal/errors"

const (
	ErrQueuePush    = errors.ErrorCode("sample_queue_push_failed")
	ErrQueueRead    = errors.ErrorCode("sample_queue_read_failed")
	ErrQueueTrim    = errors.ErrorCode("sample_queue_trim_failed")
	ErrCorruptEntry = errors.ErrorCode("sample_queue_corrupt_record")
)
