package tsdb

import (
	"context"
	"time"

	"codeberg.org/mutker/h2station/internal/errors"
	"codeberg.org/mutker/h2station/internal/sample"
)

// Writer persists a batch for one logical table.
type Writer interface {
	Write(ctx context.Context, t Table, dev int, batch sample.Batch) (int64, error)
}

// Write stores the batch in its day partitions and returns the number of
// rows written. A failed write may be retried with the same batch. Entries whose width
// or value types do not fit the table are rejected before any I/O.
func (d *DB) Write(ctx context.Context, t Table, dev int, batch sample.Batch) (int64, error) {
	errFactory := errors.New()

	if len(batch) == 0 {
		return 0, nil
	}

	groups, err := bindBatch(t, batch, d.loc)
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	n, err := d.dialect.insert(ctx, d.db, t, dev, groups, d.known)
	if err != nil {
		d.log.Error().Err(err).Str("table", t.Name).Int("rows", len(batch)).Msg("Batch insert failed")
		return 0, errFactory.WithData(ErrWrite, struct {
			Table string
			Rows  int
			Error string
		}{t.Name, len(batch), err.Error()})
	}

	d.log.Debug().
		Str("table", t.Name).
		Int("partitions", len(groups)).
		Int64("rows", n).
		Dur("elapsed", time.Since(start)).
		Msg("Flushed batch to time-series store")

	return n, nil
}

// bindBatch groups entries by local calendar day, preserving order, and
// converts every value with the table's binder.
func bindBatch(t Table, batch sample.Batch, loc *time.Location) ([]dayGroup, error) {
	errFactory := errors.New()
	bind := t.Type.binder()
	width := len(t.Columns)

	var groups []dayGroup
	index := make(map[string]int)
	vals := make([]any, 0, width)

	for i, e := range batch {
		if e.Values == nil || e.Values.Len() != width {
			got := 0
			if e.Values != nil {
				got = e.Values.Len()
			}
			return nil, errFactory.WithData(ErrWidthMismatch, struct {
				Table string
				Entry int
				Want  int
				Got   int
			}{t.Name, i, width, got})
		}

		vals = e.Values.Args(vals[:0])
		row := make([]any, 0, width+1)
		row = append(row, e.Time.UnixMilli())
		for j, v := range vals {
			b, ok := bind(v)
			if !ok {
				return nil, errFactory.WithData(ErrBind, struct {
					Table  string
					Entry  int
					Column string
					Type   string
				}{t.Name, i, t.Columns[j], t.Type.String()})
			}
			row = append(row, b)
		}

		name := t.SubTable(e.Time.In(loc))
		g, ok := index[name]
		if !ok {
			g = len(groups)
			index[name] = g
			groups = append(groups, dayGroup{name: name})
		}
		groups[g].rows = append(groups[g].rows, row)
	}

	return groups, nil
}
