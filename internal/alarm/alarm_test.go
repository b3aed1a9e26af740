package alarm

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"codeberg.org/mutker/h2station/internal/broker"
	"codeberg.org/mutker/h2station/internal/errors"
	"codeberg.org/mutker/h2station/internal/kv"
	"codeberg.org/mutker/h2station/internal/logger"
	"codeberg.org/mutker/h2station/internal/tsdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubReader serves one row per table.
type stubReader struct {
	rows  map[string]tsdb.Row
	err   error
	calls int
}

func (s *stubReader) Latest(_ context.Context, t tsdb.Table, _ int, cols []string) (tsdb.Row, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	row := tsdb.Row{}
	for _, c := range cols {
		if v, ok := s.rows[t.Name][c]; ok {
			row[c] = v
		}
	}
	return row, nil
}

func (s *stubReader) set(table string, row tsdb.Row) {
	if s.rows == nil {
		s.rows = make(map[string]tsdb.Row)
	}
	s.rows[table] = row
}

type countingObserver struct {
	raised map[string]int
	failed []string
}

func (o *countingObserver) AlertsRaised(m string, n int) {
	if o.raised == nil {
		o.raised = make(map[string]int)
	}
	o.raised[m] += n
}

func (o *countingObserver) PublishFailed(topic string) { o.failed = append(o.failed, topic) }

var clock = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newRule(m Mechanism, reader LatestReader, store kv.Store) *Rule {
	r := NewRule(m, "1", 1, reader, store, time.UTC, logger.Nop())
	r.now = func() time.Time { return clock }
	return r
}

func TestMechanismDefinitions(t *testing.T) {
	assert.Equal(t, "H2_1:Mechanism:H2Quality", H2Quality.Key("1"))
	assert.Equal(t, "H2_2:Mechanism:H2Leakage", H2Leakage.Key("2"))
	assert.Equal(t, "H2_3:Mechanism:liquidLeakage", LiquidLeakage.Key("3"))
	assert.Equal(t, "LiquidLeakage", LiquidLeakage.String())

	for _, m := range Mechanisms() {
		for _, c := range m.Columns() {
			assert.True(t, m.Table().HasColumn(c), "%s reads %s", m, c)
		}
	}

	assert.True(t, H2Quality.Fires(0, 0.95))
	assert.False(t, H2Quality.Fires(1, 0.96))
	assert.True(t, H2Leakage.Fires(0, 1))
	assert.False(t, H2Leakage.Fires(1, 0))
}

func TestLiquidLeakageThresholdSplit(t *testing.T) {
	for i := range LiquidLeakage.Columns() {
		if i < 4 {
			assert.False(t, LiquidLeakage.Fires(i, 600), "column %d", i)
			assert.True(t, LiquidLeakage.Fires(i, 700), "column %d", i)
		} else {
			assert.True(t, LiquidLeakage.Fires(i, 15), "column %d", i)
			assert.False(t, LiquidLeakage.Fires(i, 8), "column %d", i)
		}
	}
}

func TestH2QualityTriggerThenRevert(t *testing.T) {
	ctx := context.Background()
	reader := &stubReader{}
	store := kv.NewMemoryStore()
	rule := newRule(H2Quality, reader, store)

	reader.set("analog", tsdb.Row{"c34": 0.95, "c35": 0.95})
	acc := NewAccumulator()

	fired, err := rule.Evaluate(ctx, acc)
	require.NoError(t, err)
	assert.True(t, fired)

	alerts := acc.Alerts(CategoryAlarms)
	require.Len(t, alerts, 2)
	assert.Equal(t, Alert{Code: "c34", Desc: "氢气品质差", StartTime: "2024-03-01 12:00:00"}, alerts[0])
	assert.Equal(t, "c35", alerts[1].Code)

	sets := store.Sets()
	require.Len(t, sets, 2)
	for _, s := range sets {
		assert.Equal(t, "H2_1:Mechanism:H2Quality", s.Key)
		assert.NotEqual(t, NotAlarmed, s.Value)
	}

	reader.set("analog", tsdb.Row{"c34": 0.99, "c35": 0.99})
	fired, err = rule.Evaluate(ctx, NewAccumulator())
	require.NoError(t, err)
	assert.False(t, fired)

	sets = store.Sets()
	require.Len(t, sets, 4)
	assert.Equal(t, kv.SetCall{Key: "H2_1:Mechanism:H2Quality", Field: "c34", Value: NotAlarmed}, sets[2])
	assert.Equal(t, kv.SetCall{Key: "H2_1:Mechanism:H2Quality", Field: "c35", Value: NotAlarmed}, sets[3])

	// stays quiet once reverted
	_, err = rule.Evaluate(ctx, NewAccumulator())
	require.NoError(t, err)
	assert.Len(t, store.Sets(), 4)
}

func TestHysteresisKeepsFirstTriggerTime(t *testing.T) {
	ctx := context.Background()
	reader := &stubReader{}
	store := kv.NewMemoryStore()
	rule := newRule(H2Leakage, reader, store)

	reader.set("bool", tsdb.Row{"c158": 1, "c173": 0})

	_, err := rule.Evaluate(ctx, NewAccumulator())
	require.NoError(t, err)

	rule.now = func() time.Time { return clock.Add(time.Minute) }
	acc := NewAccumulator()
	fired, err := rule.Evaluate(ctx, acc)
	require.NoError(t, err)
	assert.True(t, fired)

	alerts := acc.Alerts(CategoryAlarms)
	require.Len(t, alerts, 1)
	assert.Equal(t, "c158", alerts[0].Code)
	assert.Equal(t, "2024-03-01 12:00:00", alerts[0].StartTime)
	assert.Len(t, store.Sets(), 1, "an active alarm is never re-persisted")
}

func TestLiquidLeakageTriggerRevert(t *testing.T) {
	ctx := context.Background()
	reader := &stubReader{}
	store := kv.NewMemoryStore()
	rule := newRule(LiquidLeakage, reader, store)
	key := LiquidLeakage.Key("1")

	reader.set("analog", tsdb.Row{"c36": 700, "c28": 15})
	fired, err := rule.Evaluate(ctx, NewAccumulator())
	require.NoError(t, err)
	assert.True(t, fired)

	v, _, _ := store.Get(ctx, key, "c36")
	assert.Equal(t, "2024-03-01 12:00:00", v)
	v, _, _ = store.Get(ctx, key, "c28")
	assert.Equal(t, "2024-03-01 12:00:00", v)

	reader.set("analog", tsdb.Row{"c36": 5, "c28": 8})
	fired, err = rule.Evaluate(ctx, NewAccumulator())
	require.NoError(t, err)
	assert.False(t, fired)

	v, _, _ = store.Get(ctx, key, "c36")
	assert.Equal(t, NotAlarmed, v)
	v, _, _ = store.Get(ctx, key, "c28")
	assert.Equal(t, NotAlarmed, v)
	assert.Len(t, store.Sets(), 4)
}

func TestEvaluateEmptyRowIsNoSignal(t *testing.T) {
	store := kv.NewMemoryStore()
	rule := newRule(H2Quality, &stubReader{}, store)

	acc := NewAccumulator()
	fired, err := rule.Evaluate(context.Background(), acc)
	require.NoError(t, err)
	assert.False(t, fired)
	assert.Zero(t, acc.Len())
	assert.Empty(t, store.Sets())
}

func TestEvaluateSkipsMissingColumns(t *testing.T) {
	reader := &stubReader{}
	reader.set("analog", tsdb.Row{"c35": 0.5})
	store := kv.NewMemoryStore()
	rule := newRule(H2Quality, reader, store)

	acc := NewAccumulator()
	fired, err := rule.Evaluate(context.Background(), acc)
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Equal(t, 1, acc.Len())
	assert.Equal(t, "c35", acc.Alerts(CategoryAlarms)[0].Code)
}

func TestEvaluateReadError(t *testing.T) {
	rule := newRule(H2Quality, &stubReader{err: assert.AnError}, kv.NewMemoryStore())

	fired, err := rule.Evaluate(context.Background(), NewAccumulator())
	require.ErrorIs(t, err, assert.AnError)
	assert.False(t, fired)
}

func TestPublisherDocument(t *testing.T) {
	fake := broker.NewFakePublisher()
	pub := NewPublisher(fake, 1, logger.Nop())

	acc := NewAccumulator()
	acc.Add(CategoryAlarms, Alert{Code: "c34", Desc: "d", StartTime: "2024-03-01 12:00:00"})

	require.NoError(t, pub.Publish(context.Background(), Scope{Unit: "2", Mechanism: H2Quality}, acc))
	assert.Zero(t, acc.Len())

	require.Len(t, fake.Messages, 1)
	msg := fake.Messages[0]
	assert.Equal(t, "H2_2/Mechanism/H2Quality", msg.Topic)
	assert.Equal(t, byte(1), msg.QoS)
	assert.False(t, msg.Retained)
	assert.JSONEq(t, `{"alarms":[{"code":"c34","desc":"d","advice":"","startTime":"2024-03-01 12:00:00"}]}`, string(msg.Payload))
}

func TestPublisherClearsOnTimeout(t *testing.T) {
	fake := broker.NewFakePublisher()
	fake.SetError(errors.New().New(broker.ErrPublishTimeout))
	pub := NewPublisher(fake, 1, logger.Nop())

	acc := NewAccumulator()
	acc.Add(CategoryAlarms, Alert{Code: "c158"})

	err := pub.Publish(context.Background(), Scope{Unit: "1", Mechanism: H2Leakage}, acc)
	assert.True(t, errors.HasCode(err, broker.ErrPublishTimeout))
	assert.Zero(t, acc.Len())
}

func TestEngine(t *testing.T) {
	ctx := context.Background()
	reader := &stubReader{}
	store := kv.NewMemoryStore()
	fake := broker.NewFakePublisher()
	obs := &countingObserver{}

	engine := NewEngine("1", 1, reader, store, NewPublisher(fake, 1, logger.Nop()), time.UTC, obs, logger.Nop())

	n, err := engine.Evaluate(ctx, H2Quality)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, fake.Messages, "nothing is published without a trigger")

	reader.set("analog", tsdb.Row{"c34": 0.95, "c35": 0.95, "c36": 1})
	n, err = engine.Evaluate(ctx, H2Quality)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = engine.Evaluate(ctx, LiquidLeakage)
	require.NoError(t, err)
	assert.Zero(t, n)

	msgs := fake.Topic("H2_1/Mechanism/H2Quality")
	require.Len(t, msgs, 1)

	var doc map[string][]Alert
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &doc))
	assert.Len(t, doc[CategoryAlarms], 2)
	assert.Equal(t, 2, obs.raised["H2Quality"])

	fake.SetError(errors.New().New(broker.ErrPublishTimeout))
	n, err = engine.Evaluate(ctx, H2Quality)
	require.NoError(t, err, "publish failures are not evaluation failures")
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"H2_1/Mechanism/H2Quality"}, obs.failed)

	reader.err = assert.AnError
	_, err = engine.Evaluate(ctx, H2Leakage)
	assert.ErrorIs(t, err, assert.AnError)
}
