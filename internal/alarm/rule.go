package alarm

import (
	"context"
	"time"

	"codeberg.org/mutker/h2station/internal/kv"
	"codeberg.org/mutker/h2station/internal/logger"
	"codeberg.org/mutker/h2station/internal/tsdb"
)

// TimeFormat is the layout of alarm start times.
const TimeFormat = "2006-01-02 15:04:05"

// NotAlarmed is the state of a column without an active alarm.
const NotAlarmed = "0"

// LatestReader returns the newest stored row.
type LatestReader interface {
	Latest(ctx context.Context, t tsdb.Table, dev int, cols []string) (tsdb.Row, error)
}

// Rule evaluates one mechanism against the latest stored values.
type Rule struct {
	mechanism Mechanism
	unit      string
	dev       int
	reader    LatestReader
	store     kv.Store
	loc       *time.Location
	now       func() time.Time
	log       logger.Logger
}

func NewRule(m Mechanism, unit string, dev int, reader LatestReader, store kv.Store, loc *time.Location, log logger.Logger) *Rule {
	return &Rule{
		mechanism: m,
		unit:      unit,
		dev:       dev,
		reader:    reader,
		store:     store,
		loc:       loc,
		now:       time.Now,
		log:       log.With("alarm"),
	}
}

func (r *Rule) Mechanism() Mechanism {
	return r.mechanism
}

// Evaluate raises an alert in acc for every column over its threshold and
// records the first time each column entered alarm. Columns back under
// their threshold are cleared. It reports whether any column fired.
func (r *Rule) Evaluate(ctx context.Context, acc *Accumulator) (bool, error) {
	m := r.mechanism
	cols := m.Columns()

	row, err := r.reader.Latest(ctx, m.Table(), r.dev, cols)
	if err != nil {
		return false, err
	}
	if len(row) == 0 {
		r.log.Debug().Str("mechanism", m.String()).Msg("No stored row, skipping evaluation")
		return false, nil
	}

	key := m.Key(r.unit)
	now := r.now().In(r.loc).Format(TimeFormat)
	fired := false

	for i, col := range cols {
		v, ok := row.Value(col)
		if !ok {
			continue
		}

		state, found, err := r.store.Get(ctx, key, col)
		if err != nil {
			return false, err
		}
		alarmed := found && state != "" && state != NotAlarmed

		if m.Fires(i, v) {
			start := now
			if alarmed {
				start = state
			} else if err := r.store.Set(ctx, key, col, now); err != nil {
				return false, err
			}

			acc.Add(CategoryAlarms, Alert{
				Code:      col,
				Desc:      m.Message(),
				StartTime: start,
			})
			fired = true

			continue
		}

		if alarmed {
			if err := r.store.Set(ctx, key, col, NotAlarmed); err != nil {
				return false, err
			}
			r.log.Info().Str("mechanism", m.String()).Str("column", col).Str("since", state).Msg("Alarm cleared")
		}
	}

	return fired, nil
}
