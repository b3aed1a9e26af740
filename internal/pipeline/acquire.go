package pipeline

import (
	"context"
	"time"

	"codeberg.org/mutker/h2station/internal/errors"
	"codeberg.org/mutker/h2station/internal/fieldbus"
	"codeberg.org/mutker/h2station/internal/logger"
	"codeberg.org/mutker/h2station/internal/register"
	"codeberg.org/mutker/h2station/internal/sample"
	"codeberg.org/mutker/h2station/internal/tsdb"
)

const (
	TaskRead         = "read"
	TaskDecodeAnalog = "decode_analog"
	TaskDecodeBool   = "decode_bool"
	TaskBuffer       = "buffer"
	TaskEnqueue      = "enqueue"
	TaskFlushAnalog  = "flush_analog"
	TaskFlushBool    = "flush_bool"
	TaskDrain        = "drain"
)

// AcquireConfig tunes buffering and flushing.
type AcquireConfig struct {
	Device         int
	FlushThreshold int
	MaxBuffered    int
	// DrainEvery is the tick period of queue drains; only used with a queue.
	DrainEvery int
}

// Acquisition reads one frame per tick, decodes it and hands the samples
// to the time-series store in batches.
type Acquisition struct {
	cfg      AcquireConfig
	reader   fieldbus.Reader
	writer   tsdb.Writer
	queue    *sample.Queue
	analog   *sample.Buffer
	bools    *sample.Buffer
	backoffs map[string]*backoff
	observer Observer
	now      func() time.Time
	log      logger.Logger
}

// NewAcquisition buffers samples in memory. With a non-nil queue every
// sample is pushed to it instead and drained in bulk every DrainEvery ticks.
func NewAcquisition(cfg AcquireConfig, reader fieldbus.Reader, writer tsdb.Writer, queue *sample.Queue, obs Observer, log logger.Logger) *Acquisition {
	if obs == nil {
		obs = nopObserver{}
	}
	log = log.With("acquire")

	return &Acquisition{
		cfg:      cfg,
		reader:   reader,
		writer:   writer,
		queue:    queue,
		analog:   sample.NewBuffer(tsdb.AnalogTable.Name, cfg.MaxBuffered, log),
		bools:    sample.NewBuffer(tsdb.BoolTable.Name, cfg.MaxBuffered, log),
		backoffs: map[string]*backoff{TaskFlushAnalog: {}, TaskFlushBool: {}, TaskDrain: {}},
		observer: obs,
		now:      time.Now,
		log:      log,
	}
}

// frameState carries one tick's frame through its tasks.
type frameState struct {
	at     time.Time
	frame  *register.Frame
	analog register.Analog
	bools  register.Bools
}

func (a *Acquisition) Register(g *Graph, tick uint64) error {
	st := &frameState{}

	steps := []struct {
		name string
		fn   TaskFunc
		deps []string
	}{
		{TaskRead, func(ctx context.Context) error { return a.read(ctx, st) }, nil},
		{TaskDecodeAnalog, func(context.Context) error {
			st.analog = register.DecodeAnalog(st.frame)
			return nil
		}, []string{TaskRead}},
		{TaskDecodeBool, func(context.Context) error {
			st.bools = register.DecodeBool(st.frame)
			return nil
		}, []string{TaskRead}},
	}

	for _, s := range steps {
		if err := g.Add(s.name, s.fn, s.deps...); err != nil {
			return err
		}
	}

	if a.queue != nil {
		return a.registerDurable(g, tick, st)
	}

	if err := g.Add(TaskBuffer, func(context.Context) error {
		a.analog.Append(st.at, &st.analog)
		a.bools.Append(st.at, &st.bools)
		return nil
	}, TaskDecodeAnalog, TaskDecodeBool); err != nil {
		return err
	}

	// Flushes also run on ticks whose read failed so a backlog keeps
	// draining while the fieldbus is down.
	if err := g.After(TaskFlushAnalog, func(ctx context.Context) error {
		return a.flush(ctx, tick, TaskFlushAnalog, a.analog, tsdb.AnalogTable, false)
	}, TaskBuffer); err != nil {
		return err
	}

	return g.After(TaskFlushBool, func(ctx context.Context) error {
		return a.flush(ctx, tick, TaskFlushBool, a.bools, tsdb.BoolTable, false)
	}, TaskBuffer)
}

func (a *Acquisition) registerDurable(g *Graph, tick uint64, st *frameState) error {
	if err := g.Add(TaskEnqueue, func(ctx context.Context) error {
		return a.queue.Push(ctx, sample.NewRecord(st.at, &st.analog, &st.bools))
	}, TaskDecodeAnalog, TaskDecodeBool); err != nil {
		return err
	}

	every := uint64(max(a.cfg.DrainEvery, 1))
	if tick%every != every-1 {
		return nil
	}

	return g.After(TaskDrain, func(ctx context.Context) error {
		return a.drain(ctx, tick)
	}, TaskEnqueue)
}

func (a *Acquisition) read(ctx context.Context, st *frameState) error {
	frame, err := a.reader.ReadFrame(ctx)
	if err != nil {
		return err
	}

	st.frame = frame
	st.at = a.now()

	return nil
}

// flush writes buf once it reached the flush threshold, or whenever it is
// non-empty with force. A failed write keeps the batch and pauses the
// table for a growing number of ticks.
func (a *Acquisition) flush(ctx context.Context, tick uint64, task string, buf *sample.Buffer, t tsdb.Table, force bool) error {
	defer func() { a.observer.Buffered(t.Name, buf.Len()) }()

	if !force && !buf.Ready(a.cfg.FlushThreshold) {
		return nil
	}

	b := a.backoffs[task]
	if !force && !b.ready(tick) {
		return nil
	}

	var written int64
	n, err := buf.Flush(ctx, func(ctx context.Context, batch sample.Batch) error {
		var err error
		written, err = a.writer.Write(ctx, t, a.cfg.Device, batch)
		return err
	})
	if err != nil {
		wait := b.fail(tick)
		a.log.Error().
			Err(err).
			Str("table", t.Name).
			Int("buffered", buf.Len()).
			Uint64("retry_in_ticks", wait).
			Msg("Flush failed, keeping batch")
		return errors.New().Wrap(ErrWriteBackoff, err)
	}

	b.reset()
	if n > 0 {
		a.observer.RowsWritten(t.Name, written)
	}

	return nil
}

// drain moves queued records into the store, analog rows first.
func (a *Acquisition) drain(ctx context.Context, tick uint64) error {
	b := a.backoffs[TaskDrain]
	if !b.ready(tick) {
		return nil
	}

	limit := max(a.cfg.MaxBuffered, a.cfg.DrainEvery)

	_, err := a.queue.Drain(ctx, limit, func(ctx context.Context, records []sample.Record) error {
		analogs := make(sample.Batch, 0, len(records))
		bools := make(sample.Batch, 0, len(records))

		for _, r := range records {
			at, an, bo, err := r.Decode()
			if err != nil {
				a.log.Warn().Err(err).Int64("timestamp", r.Timestamp).Msg("Dropping corrupt queued sample")
				continue
			}
			analogs = append(analogs, sample.Entry{Time: at, Values: an})
			bools = append(bools, sample.Entry{Time: at, Values: bo})
		}

		n, err := a.writer.Write(ctx, tsdb.AnalogTable, a.cfg.Device, analogs)
		if err != nil {
			return err
		}
		a.observer.RowsWritten(tsdb.AnalogTable.Name, n)

		n, err = a.writer.Write(ctx, tsdb.BoolTable, a.cfg.Device, bools)
		if err != nil {
			return err
		}
		a.observer.RowsWritten(tsdb.BoolTable.Name, n)

		return nil
	})
	if err != nil {
		wait := b.fail(tick)
		a.log.Error().Err(err).Uint64("retry_in_ticks", wait).Msg("Queue drain failed, records kept")
		return errors.New().Wrap(ErrWriteBackoff, err)
	}

	b.reset()

	return nil
}

// Flush writes whatever is buffered regardless of threshold and backoff.
func (a *Acquisition) Flush(ctx context.Context) error {
	return errors.Join(
		a.flush(ctx, 0, TaskFlushAnalog, a.analog, tsdb.AnalogTable, true),
		a.flush(ctx, 0, TaskFlushBool, a.bools, tsdb.BoolTable, true),
	)
}

// Buffered returns the in-memory sample counts per table.
func (a *Acquisition) Buffered() (analog, bools int) {
	return a.analog.Len(), a.bools.Len()
}
