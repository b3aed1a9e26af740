package stats

import "codeberg.org/mutker/h2station/internal/errors"

const (
	ErrCount   = errors.ErrorCode("stats_count_failed")
	ErrPublish = errors.ErrorCode("stats_publish_failed")
	ErrPersist = errors.ErrorCode("stats_persist_failed")
)
