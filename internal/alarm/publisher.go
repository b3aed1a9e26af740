package alarm

import (
	"context"

	"codeberg.org/mutker/h2station/internal/broker"
	"codeberg.org/mutker/h2station/internal/errors"
	"codeberg.org/mutker/h2station/internal/logger"
)

// Publisher sends accumulated alerts to the scope's topic.
type Publisher struct {
	broker broker.Publisher
	qos    byte
	log    logger.Logger
}

func NewPublisher(b broker.Publisher, qos byte, log logger.Logger) *Publisher {
	return &Publisher{broker: b, qos: qos, log: log.With("alarm")}
}

// Publish sends one message for the scope and clears acc whether or not
// the broker acknowledged it. Failed alerts are not re-queued.
func (p *Publisher) Publish(ctx context.Context, scope Scope, acc *Accumulator) error {
	defer acc.Reset()

	payload, err := acc.Marshal()
	if err != nil {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	topic := scope.Topic()
	err = p.broker.Publish(ctx, broker.Message{
		Topic:   topic,
		Payload: payload,
		QoS:     p.qos,
	})
	if err != nil {
		p.log.Warn().Err(err).Str("topic", topic).Int("alerts", acc.Len()).Msg("Alert publish failed, dropping alerts")
		return err
	}

	return nil
}
