package alarm

import (
	"context"
	"time"

	"codeberg.org/mutker/h2station/internal/kv"
	"codeberg.org/mutker/h2station/internal/logger"
)

// Observer receives evaluation outcomes.
type Observer interface {
	AlertsRaised(mechanism string, n int)
	PublishFailed(topic string)
}

type nopObserver struct{}

func (nopObserver) AlertsRaised(string, int) {}
func (nopObserver) PublishFailed(string)     {}

// Engine runs the unit's mechanisms, one accumulator per evaluation.
type Engine struct {
	unit      string
	rules     map[Mechanism]*Rule
	publisher *Publisher
	observer  Observer
	log       logger.Logger
}

func NewEngine(unit string, dev int, reader LatestReader, store kv.Store, pub *Publisher, loc *time.Location, obs Observer, log logger.Logger) *Engine {
	if obs == nil {
		obs = nopObserver{}
	}

	rules := make(map[Mechanism]*Rule, len(definitions))
	for _, m := range Mechanisms() {
		rules[m] = NewRule(m, unit, dev, reader, store, loc, log)
	}

	return &Engine{
		unit:      unit,
		rules:     rules,
		publisher: pub,
		observer:  obs,
		log:       log.With("alarm"),
	}
}

// Evaluate runs mechanism m and publishes its alerts when any column fired.
// It returns the number of alerts raised. Read and state errors abort the
// evaluation without publishing; publish errors are only logged.
func (e *Engine) Evaluate(ctx context.Context, m Mechanism) (int, error) {
	rule := e.rules[m]
	acc := NewAccumulator()

	fired, err := rule.Evaluate(ctx, acc)
	if err != nil {
		e.log.Warn().Err(err).Str("mechanism", m.String()).Msg("Evaluation skipped")
		return 0, err
	}
	if !fired {
		return 0, nil
	}

	n := acc.Len()
	e.observer.AlertsRaised(m.String(), n)

	scope := Scope{Unit: e.unit, Mechanism: m}
	if err := e.publisher.Publish(ctx, scope, acc); err != nil {
		e.observer.PublishFailed(scope.Topic())
	}

	return n, nil
}
