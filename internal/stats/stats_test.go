package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/h2station/internal/broker"
	"codeberg.org/mutker/h2station/internal/config"
	"codeberg.org/mutker/h2station/internal/errors"
	"codeberg.org/mutker/h2station/internal/logger"
	"codeberg.org/mutker/h2station/internal/register"
	"codeberg.org/mutker/h2station/internal/sample"
	"codeberg.org/mutker/h2station/internal/tsdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *tsdb.DB {
	t.Helper()

	db, err := tsdb.Open(config.StorageConfig{
		Driver:   "sqlite3",
		DSN:      filepath.Join(t.TempDir(), "stats.db"),
		Location: "UTC",
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Provision(context.Background()))

	return db
}

func bools(ts time.Time, set ...int) sample.Entry {
	var b register.Bools
	for _, i := range set {
		b[i] = true
	}
	return sample.Entry{Time: ts, Values: &b}
}

func newService(db *tsdb.DB, pub broker.Publisher) *Service {
	s := NewService("1", 1, db, db, pub, 1, logger.Nop())
	s.now = func() time.Time { return now }
	return s
}

func TestGroupSizes(t *testing.T) {
	assert.Len(t, Control.Columns, 88)
	assert.Len(t, Electrolysis.Columns, 51)
	assert.Len(t, Purification.Columns, 21)

	for _, g := range Groups() {
		for _, c := range g.Columns {
			assert.True(t, tsdb.BoolTable.HasColumn(c), "%s: %s", g.Name, c)
		}
	}
}

func TestCountThreeTransitions(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)

	// c0 rises at -50m and -30m, c94 rises at -10m; c1 stays high so
	// repeated highs are not onsets.
	batch := sample.Batch{
		bools(now.Add(-55*time.Minute), 1),
		bools(now.Add(-50*time.Minute), 0, 1),
		bools(now.Add(-40*time.Minute), 1),
		bools(now.Add(-30*time.Minute), 0, 1),
		bools(now.Add(-20*time.Minute), 1),
		bools(now.Add(-10*time.Minute), 1, 94),
	}
	_, err := db.Write(ctx, tsdb.BoolTable, 1, batch)
	require.NoError(t, err)

	s := newService(db, broker.NewFakePublisher())

	got, err := s.Count(ctx, Control, "", DefaultWindow)
	require.NoError(t, err)
	assert.Equal(t, "3", got)

	got, err = s.Count(ctx, Electrolysis, "pem", DefaultWindow)
	require.NoError(t, err)
	assert.Equal(t, "0", got)
}

func TestCountEmptyWindow(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)

	// everything is older than the window
	_, err := db.Write(ctx, tsdb.BoolTable, 1, sample.Batch{
		bools(now.Add(-3 * time.Hour)),
		bools(now.Add(-2*time.Hour), 0),
	})
	require.NoError(t, err)

	got, err := newService(db, broker.NewFakePublisher()).Count(ctx, Control, "", DefaultWindow)
	require.NoError(t, err)
	assert.Equal(t, "0", got)
}

type failingCounter struct{}

func (failingCounter) CountTransitions(context.Context, tsdb.Table, int, []string, string, time.Time) (int64, error) {
	return 0, assert.AnError
}

func TestCountError(t *testing.T) {
	s := NewService("1", 1, failingCounter{}, nil, broker.NewFakePublisher(), 1, logger.Nop())

	got, err := s.Count(context.Background(), Purification, "", DefaultWindow)
	assert.True(t, errors.HasCode(err, ErrCount))
	assert.Equal(t, "0", got)
}

func TestPublish(t *testing.T) {
	pub := broker.NewFakePublisher()
	s := NewService("3", 1, failingCounter{}, nil, pub, 1, logger.Nop())

	require.NoError(t, s.Publish(context.Background(), Counts{Control: 4, Electrolysis: 0, Purification: 12}))

	msgs := pub.Topic("H2_3/AlertCount")
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"A":"4","PEM":"0","PG":"12"}`, string(msgs[0].Payload))
	assert.Equal(t, byte(1), msgs[0].QoS)
}

func TestPersist(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	s := newService(db, broker.NewFakePublisher())

	require.NoError(t, s.Persist(ctx, Counts{Control: 2, Electrolysis: 1, Purification: 7}))

	row, err := db.Latest(ctx, tsdb.AlertTable, 1, []string{"a", "pem", "pg"})
	require.NoError(t, err)
	assert.Equal(t, tsdb.Row{"a": 2, "pem": 1, "pg": 7}, row)
}

func TestCountsSet(t *testing.T) {
	var c Counts
	c.Set(Control, 1)
	c.Set(Electrolysis, 2)
	c.Set(Purification, 3)

	assert.Equal(t, Counts{1, 2, 3}, c)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, c.Args(nil))
}
