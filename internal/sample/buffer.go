package sample

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/h2station/internal/logger"
)

// WriteFunc persists a batch. The batch belongs to the callee once it
// returns nil.
type WriteFunc func(ctx context.Context, batch Batch) error

// Buffer accumulates entries for one logical table until flushed.
type Buffer struct {
	mu         sync.Mutex
	name       string
	entries    Batch
	max        int
	dropped    uint64
	overflowed bool
	log        logger.Logger
}

// NewBuffer returns a buffer that holds at most max entries, discarding the
// oldest beyond that.
func NewBuffer(name string, max int, log logger.Logger) *Buffer {
	return &Buffer{
		name:    name,
		entries: make(Batch, 0, min(max, 1024)),
		max:     max,
		log:     log,
	}
}

func (b *Buffer) Name() string {
	return b.name
}

func (b *Buffer) Append(t time.Time, v Values) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max > 0 && len(b.entries) >= b.max {
		n := len(b.entries) - b.max + 1
		copy(b.entries, b.entries[n:])
		b.entries = b.entries[:len(b.entries)-n]
		b.dropped += uint64(n)

		if !b.overflowed {
			b.overflowed = true
			b.log.Warn().
				Str("table", b.name).
				Int("capacity", b.max).
				Msg("Sample buffer full, dropping oldest entries")
		}
	}

	b.entries = append(b.entries, Entry{Time: t, Values: v})
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Ready reports whether the buffer holds at least threshold entries.
func (b *Buffer) Ready(threshold int) bool {
	return b.Len() >= threshold
}

// Dropped returns the number of entries discarded on overflow so far.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Flush hands every buffered entry to write and empties the buffer only when
// write succeeds. The buffer is held for the duration of write.
func (b *Buffer) Flush(ctx context.Context, write WriteFunc) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.entries)
	if n == 0 {
		return 0, nil
	}

	if err := write(ctx, b.entries); err != nil {
		return 0, err
	}

	b.entries = make(Batch, 0, cap(b.entries))
	if b.overflowed {
		b.overflowed = false
		b.log.Info().Str("table", b.name).Uint64("dropped", b.dropped).Msg("Sample buffer recovered")
	}

	return n, nil
}
