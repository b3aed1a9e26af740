package sample

import (
	"context"
	"encoding/json"
	"time"

	"codeberg.org/mutker/h2station/internal/errors"
	"codeberg.org/mutker/h2station/internal/logger"
	"codeberg.org/mutker/h2station/internal/register"
	"github.com/redis/go-redis/v9"
)

// Record is the queued form of one acquisition.
type Record struct {
	Timestamp int64     `json:"timestamp"`
	Analogs   []float32 `json:"analogs"`
	Bools     []int     `json:"bools"`
}

// NewRecord captures a decoded frame taken at t.
func NewRecord(t time.Time, a *register.Analog, b *register.Bools) Record {
	r := Record{
		Timestamp: t.UnixMilli(),
		Analogs:   make([]float32, register.AnalogCols),
		Bools:     make([]int, register.BoolCols),
	}
	copy(r.Analogs, a[:])
	for i, v := range b {
		if v {
			r.Bools[i] = 1
		}
	}

	return r
}

// Decode restores the frame. It fails when the channel widths do not match.
func (r Record) Decode() (time.Time, *register.Analog, *register.Bools, error) {
	if len(r.Analogs) != register.AnalogCols || len(r.Bools) != register.BoolCols {
		return time.Time{}, nil, nil, errors.New().WithData(ErrCorruptEntry, struct {
			Analogs int
			Bools   int
		}{len(r.Analogs), len(r.Bools)})
	}

	var a register.Analog
	var b register.Bools
	copy(a[:], r.Analogs)
	for i, v := range r.Bools {
		b[i] = v != 0
	}

	return time.UnixMilli(r.Timestamp), &a, &b, nil
}

// Queue is a Redis list of records surviving process restarts.
type Queue struct {
	rdb redis.Cmdable
	key string
	log logger.Logger
}

func NewQueue(rdb redis.Cmdable, key string, log logger.Logger) *Queue {
	return &Queue{rdb: rdb, key: key, log: log}
}

func (q *Queue) Push(ctx context.Context, r Record) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return errors.New().Wrap(ErrQueuePush, err)
	}

	if err := q.rdb.RPush(ctx, q.key, payload).Err(); err != nil {
		return errors.New().Wrap(ErrQueuePush, err)
	}

	return nil
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, errors.New().Wrap(ErrQueueRead, err)
	}

	return n, nil
}

// Drain passes up to max queued records to fn and removes them from the
// queue only when fn succeeds. Unreadable records are logged and removed.
func (q *Queue) Drain(ctx context.Context, max int, fn func(context.Context, []Record) error) (int, error) {
	errFactory := errors.New()

	raw, err := q.rdb.LRange(ctx, q.key, 0, int64(max)-1).Result()
	if err != nil {
		return 0, errFactory.Wrap(ErrQueueRead, err)
	}
	if len(raw) == 0 {
		return 0, nil
	}

	records := make([]Record, 0, len(raw))
	for i, item := range raw {
		var r Record
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			q.log.Warn().Err(err).Int("position", i).Msg("Skipping unreadable queued sample")
			continue
		}
		records = append(records, r)
	}

	if len(records) > 0 {
		if err := fn(ctx, records); err != nil {
			return 0, err
		}
	}

	if err := q.rdb.LTrim(ctx, q.key, int64(len(raw)), -1).Err(); err != nil {
		return 0, errFactory.Wrap(ErrQueueTrim, err)
	}

	return len(records), nil
}
