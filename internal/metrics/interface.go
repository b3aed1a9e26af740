package metrics

import (
	"context"
	"time"
)

// Collector records daemon health. Every method is safe for concurrent use.
type Collector interface {
	TickObserved(elapsed time.Duration, overrun bool)
	TaskFailed(task string)
	RowsWritten(table string, n int64)
	Buffered(table string, n int)
	AlertsRaised(mechanism string, n int)
	PublishFailed(topic string)

	// Start serves the endpoint until ctx is done or Close is called.
	Start(ctx context.Context) error
	Close() error
}
