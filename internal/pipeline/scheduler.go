package pipeline

import (
	"context"
	"time"

	"codeberg.org/mutker/h2station/internal/errors"
	"codeberg.org/mutker/h2station/internal/logger"
)

// Stage contributes its tasks to the graph of one tick.
type Stage interface {
	Register(g *Graph, tick uint64) error
}

// Observer receives scheduler and storage measurements.
type Observer interface {
	TickObserved(elapsed time.Duration, overrun bool)
	TaskFailed(task string)
	RowsWritten(table string, n int64)
	Buffered(table string, n int)
}

type nopObserver struct{}

func (nopObserver) TickObserved(time.Duration, bool) {}
func (nopObserver) TaskFailed(string)                {}
func (nopObserver) RowsWritten(string, int64)        {}
func (nopObserver) Buffered(string, int)             {}

// Scheduler runs one graph per tick. Ticks never overlap: the next one
// starts only after every task of the current one finished.
type Scheduler struct {
	interval time.Duration
	workers  int
	stages   []Stage
	observer Observer
	tick     uint64
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	log      logger.Logger
}

func NewScheduler(interval time.Duration, workers int, obs Observer, log logger.Logger, stages ...Stage) *Scheduler {
	if obs == nil {
		obs = nopObserver{}
	}

	return &Scheduler{
		interval: interval,
		workers:  workers,
		stages:   stages,
		observer: obs,
		now:      time.Now,
		sleep:    sleep,
		log:      log.With("pipeline"),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Ticks returns the number of completed ticks.
func (s *Scheduler) Ticks() uint64 {
	return s.tick
}

// Tick builds and runs the graph of the current tick.
func (s *Scheduler) Tick(ctx context.Context) error {
	errFactory := errors.New()
	tick := s.tick
	s.tick++

	g := NewGraph()
	for _, st := range s.stages {
		if err := st.Register(g, tick); err != nil {
			return errFactory.Wrap(errors.ErrTickFault, err)
		}
	}

	res := g.Run(ctx, s.workers)

	for _, name := range res.Failed() {
		err := res[name]
		s.observer.TaskFailed(name)
		if errors.HasCode(err, ErrDependencyFailed) {
			s.log.Debug().Str("task", name).Uint64("tick", tick).Err(err).Msg("Task skipped")
			continue
		}
		s.log.Warn().Str("task", name).Uint64("tick", tick).Err(err).Msg("Task failed")
	}

	if err := res.Err(); err != nil {
		return errFactory.Wrap(errors.ErrTickFault, err)
	}

	return nil
}

// Run ticks every interval until ctx is done. A tick that takes longer
// than the interval is followed immediately by the next one.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().
		Dur("interval", s.interval).
		Int("workers", s.workers).
		Int("stages", len(s.stages)).
		Msg("Pipeline started")

	for ctx.Err() == nil {
		start := s.now()
		_ = s.Tick(ctx)
		elapsed := s.now().Sub(start)

		overrun := elapsed > s.interval
		s.observer.TickObserved(elapsed, overrun)

		if overrun {
			s.log.Warn().
				Dur("elapsed", elapsed).
				Dur("interval", s.interval).
				Uint64("tick", s.tick-1).
				Msg("Tick over budget, degraded cadence")
			continue
		}

		if err := s.sleep(ctx, s.interval-elapsed); err != nil {
			break
		}
	}

	s.log.Info().Uint64("ticks", s.tick).Msg("Pipeline stopped")

	return nil
}
