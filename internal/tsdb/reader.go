package tsdb

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"codeberg.org/mutker/h2station/internal/errors"
)

// Row maps column names to the values of one stored row. NULL columns are
// absent.
type Row map[string]float64

func (r Row) Value(col string) (float64, bool) {
	v, ok := r[col]
	return v, ok
}

// Reader is the read side used by alarm rules and statistics.
type Reader interface {
	Latest(ctx context.Context, t Table, dev int, cols []string) (Row, error)
	CountTransitions(ctx context.Context, t Table, dev int, cols []string, alias string, since time.Time) (int64, error)
	HourlyAverages(ctx context.Context, t Table, dev int, col string, now time.Time, hours int) ([]float64, error)
}

// Latest returns the newest row's values for cols, or an empty Row when the
// table holds no rows for dev.
func (d *DB) Latest(ctx context.Context, t Table, dev int, cols []string) (Row, error) {
	errFactory := errors.New()

	if err := t.checkColumns(cols); err != nil {
		return nil, err
	}

	q, args := latestQuery(d.dialect, t, dev, cols)

	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errFactory.Wrap(ErrQuery, err)
	}
	defer rows.Close()

	row := Row{}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errFactory.Wrap(ErrQuery, err)
		}
		return row, nil
	}

	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, errFactory.Wrap(ErrQuery, err)
	}

	for i, c := range cols {
		if v, ok := toFloat(dest[i]); ok {
			row[c] = v
		}
	}

	return row, nil
}

// CountTransitions counts rows after since where any of cols rose from 0 to 1
// relative to the previous row.
func (d *DB) CountTransitions(ctx context.Context, t Table, dev int, cols []string, alias string, since time.Time) (int64, error) {
	errFactory := errors.New()

	if err := checkIdent(alias); err != nil {
		return 0, err
	}
	if err := t.checkColumns(cols); err != nil {
		return 0, err
	}
	if len(cols) == 0 {
		return 0, nil
	}

	q, args := d.dialect.transitionsQuery(t, dev, cols, alias, since)

	d.mu.Lock()
	defer d.mu.Unlock()

	var count sql.NullInt64
	err := d.db.QueryRowContext(ctx, q, args...).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.Wrap(ErrQuery, err)
	}

	return count.Int64, nil
}

// HourlyAverages returns the averages of col over the hourly buckets of the
// last hours hours up to now, oldest first. Buckets without rows are skipped.
func (d *DB) HourlyAverages(ctx context.Context, t Table, dev int, col string, now time.Time, hours int) ([]float64, error) {
	errFactory := errors.New()

	if err := t.checkColumns([]string{col}); err != nil {
		return nil, err
	}
	if hours <= 0 {
		return nil, nil
	}

	start := now.Truncate(time.Hour).Add(-time.Duration(hours-1) * time.Hour)
	q, args := d.dialect.hourlyQuery(t, dev, col, start)

	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errFactory.Wrap(ErrQuery, err)
	}
	defer rows.Close()

	var avgs []float64
	for rows.Next() {
		var bucket any
		var avg sql.NullFloat64
		if err := rows.Scan(&bucket, &avg); err != nil {
			return nil, errFactory.Wrap(ErrQuery, err)
		}
		if avg.Valid {
			avgs = append(avgs, avg.Float64)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrQuery, err)
	}

	if len(avgs) > hours {
		avgs = avgs[len(avgs)-hours:]
	}

	return avgs, nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case int16:
		return float64(x), true
	case int8:
		return float64(x), true
	case int:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case []byte:
		f, err := strconv.ParseFloat(string(x), 64)
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
