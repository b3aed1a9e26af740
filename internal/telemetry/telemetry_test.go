package telemetry

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

var now = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func openStore(t *testing.T) *tsdb.DB {
	t.Helper()

	db, err := tsdb.Open(config.StorageConfig{
		Driver:   "sqlite3",
		DSN:      filepath.Join(t.TempDir(), "telemetry.db"),
		Location: "UTC",
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Provision(context.Background()))

	return db
}

func newService(t *testing.T, reader Reader, pub broker.Publisher) *Service {
	t.Helper()

	s, err := NewService(DefaultConfig(), "1", 1, reader, pub, 1, logger.Nop())
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	return s
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	err := Config{Hours: 0, Decimals: 3}.Validate()
	assert.True(t, errors.HasCode(err, ErrInvalidConfig))

	_, err = NewService(Config{Hours: 7, Decimals: -1}, "1", 1, nil, nil, 1, logger.Nop())
	assert.True(t, errors.HasCode(err, ErrInvalidConfig))
}

func TestCollect(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)

	analog := func(ts time.Time, pressure float32) sample.Entry {
		var a register.Analog
		a[1] = pressure
		a[5] = 12.5
		a[34] = 0.985
		a[97] = 2
		a[201] = 40.25
		return sample.Entry{Time: ts, Values: &a}
	}

	_, err := db.Write(ctx, tsdb.AnalogTable, 1, sample.Batch{
		analog(now.Add(-90*time.Minute), 2),
		analog(now.Add(-80*time.Minute), 4),
		analog(now.Add(-10*time.Minute), 3.5),
	})
	require.NoError(t, err)

	var b register.Bools
	b[159] = true
	_, err = db.Write(ctx, tsdb.BoolTable, 1, sample.Batch{{Time: now.Add(-time.Minute), Values: &b}})
	require.NoError(t, err)

	info, err := newService(t, db, broker.NewFakePublisher()).Collect(ctx)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"unitStatus": "1", "sysStatus": "2.000"}, info.Status)
	assert.Equal(t, map[string]string{"PEMSys": "1", "PGSys": "0"}, info.HealthLevel)
	assert.Equal(t, "3.500MPa", info.OperationData["pressure"])
	assert.Equal(t, "0.985%", info.OperationData["purity"])
	assert.Equal(t, "12.500%", info.OperationData["dew"])
	assert.Equal(t, "40.250m3/h", info.OperationData["makeFlow"])
	assert.Equal(t, []string{"3.000", "3.500"}, info.Average["pressure"])
	assert.Len(t, info.Average, 4)
}

func TestCollectEmptyStore(t *testing.T) {
	info, err := newService(t, openStore(t), broker.NewFakePublisher()).Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "0.000MPa", info.OperationData["pressure"])
	assert.Equal(t, "0", info.HealthLevel["PGSys"])
	assert.Empty(t, info.Average["purity"])
}

func TestPublish(t *testing.T) {
	pub := broker.NewFakePublisher()
	s := newService(t, openStore(t), pub)

	require.NoError(t, s.Publish(context.Background()))

	msgs := pub.Topic("H2_1/HomeInfo")
	require.Len(t, msgs, 1)
	assert.Contains(t, string(msgs[0].Payload), `"operationData"`)
	assert.Contains(t, string(msgs[0].Payload), `"healthLevel"`)

	pub.SetError(assert.AnError)
	err := s.Publish(context.Background())
	assert.True(t, errors.HasCode(err, ErrPublish))
}
