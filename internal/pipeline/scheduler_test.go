package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/h2station/internal/errors"
	"codeberg.org/mutker/h2station/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stageFunc adapts a function to Stage.
type stageFunc func(g *Graph, tick uint64) error

func (f stageFunc) Register(g *Graph, tick uint64) error { return f(g, tick) }

type recordingObserver struct {
	mu       sync.Mutex
	ticks    []time.Duration
	overruns int
	failed   map[string]int
	rows     map[string]int64
	buffered map[string]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		failed:   make(map[string]int),
		rows:     make(map[string]int64),
		buffered: make(map[string]int),
	}
}

func (o *recordingObserver) TickObserved(d time.Duration, overrun bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ticks = append(o.ticks, d)
	if overrun {
		o.overruns++
	}
}

func (o *recordingObserver) TaskFailed(task string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed[task]++
}

func (o *recordingObserver) RowsWritten(table string, n int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rows[table] += n
}

func (o *recordingObserver) Buffered(table string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.buffered[table] = n
}

func TestTickPassesTickNumbers(t *testing.T) {
	var seen []uint64
	st := stageFunc(func(g *Graph, tick uint64) error {
		seen = append(seen, tick)
		return g.Add("work", func(context.Context) error { return nil })
	})

	s := NewScheduler(time.Second, 2, nil, logger.Nop(), st)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Tick(context.Background()))
	}

	assert.Equal(t, []uint64{0, 1, 2}, seen)
	assert.Equal(t, uint64(3), s.Ticks())
}

func TestTickReportsFailures(t *testing.T) {
	obs := newRecordingObserver()
	st := stageFunc(func(g *Graph, _ uint64) error {
		if err := g.Add(TaskRead, func(context.Context) error { return assert.AnError }); err != nil {
			return err
		}
		return g.Add(TaskDecodeAnalog, func(context.Context) error { return nil }, TaskRead)
	})

	s := NewScheduler(time.Second, 2, obs, logger.Nop(), st)
	err := s.Tick(context.Background())

	assert.True(t, errors.HasCode(err, errors.ErrTickFault))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, map[string]int{TaskRead: 1, TaskDecodeAnalog: 1}, obs.failed)
}

func TestTickRejectsBadStage(t *testing.T) {
	st := stageFunc(func(g *Graph, _ uint64) error {
		return g.Add("x", func(context.Context) error { return nil }, "nope")
	})

	err := NewScheduler(time.Second, 1, nil, logger.Nop(), st).Tick(context.Background())
	assert.True(t, errors.HasCode(err, ErrUnknownDep))
}

func TestRunKeepsCadence(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	obs := newRecordingObserver()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	durations := []time.Duration{300 * time.Millisecond, 1500 * time.Millisecond, 100 * time.Millisecond}
	st := stageFunc(func(g *Graph, tick uint64) error {
		return g.Add("work", func(context.Context) error {
			clock.Advance(durations[tick])
			if int(tick) == len(durations)-1 {
				cancel()
			}
			return nil
		})
	})

	var sleeps []time.Duration
	s := NewScheduler(time.Second, 1, obs, logger.Nop(), st)
	s.now = clock.Now
	s.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		clock.Advance(d)
		return ctx.Err()
	}

	require.NoError(t, s.Run(ctx))

	// the over-budget tick is followed by the next one without a pause
	assert.Equal(t, []time.Duration{700 * time.Millisecond, 900 * time.Millisecond}, sleeps)
	assert.Equal(t, durations, obs.ticks)
	assert.Equal(t, 1, obs.overruns)
	assert.Equal(t, uint64(3), s.Ticks())
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewScheduler(time.Second, 1, nil, logger.Nop())
	require.NoError(t, s.Run(ctx))
	assert.Zero(t, s.Ticks())
}
