// Package stats counts alarm onsets per equipment group over a trailing
// window, publishes the counts and periodically persists them.
package stats

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"codeberg.org/mutker/h2station/internal/broker"
	"codeberg.org/mutker/h2station/internal/errors"
	"codeberg.org/mutker/h2station/internal/logger"
	"codeberg.org/mutker/h2station/internal/sample"
	"codeberg.org/mutker/h2station/internal/tsdb"
)

// DefaultWindow is the trailing window counts cover.
const DefaultWindow = time.Hour

// Counts is one set of group counts. It is stored as one alert row.
type Counts struct {
	Control      int64
	Electrolysis int64
	Purification int64
}

var _ sample.Values = (*Counts)(nil)

func (c *Counts) Len() int { return 3 }

func (c *Counts) Args(dst []any) []any {
	return append(dst, c.Control, c.Electrolysis, c.Purification)
}

// Set stores n under g's slot.
func (c *Counts) Set(g Group, n int64) {
	switch g.Name {
	case Control.Name:
		c.Control = n
	case Electrolysis.Name:
		c.Electrolysis = n
	case Purification.Name:
		c.Purification = n
	}
}

type document struct {
	A   string `json:"A"`
	PEM string `json:"PEM"`
	PG  string `json:"PG"`
}

// TransitionCounter is the read side statistics need.
type TransitionCounter interface {
	CountTransitions(ctx context.Context, t tsdb.Table, dev int, cols []string, alias string, since time.Time) (int64, error)
}

type Service struct {
	unit   string
	dev    int
	reader TransitionCounter
	writer tsdb.Writer
	pub    broker.Publisher
	qos    byte
	now    func() time.Time
	log    logger.Logger
}

func NewService(unit string, dev int, reader TransitionCounter, writer tsdb.Writer, pub broker.Publisher, qos byte, log logger.Logger) *Service {
	return &Service{
		unit:   unit,
		dev:    dev,
		reader: reader,
		writer: writer,
		pub:    pub,
		qos:    qos,
		now:    time.Now,
		log:    log.With("stats"),
	}
}

// Transitions counts rows within window where any of g's columns rose
// from 0 to 1.
func (s *Service) Transitions(ctx context.Context, g Group, alias string, window time.Duration) (int64, error) {
	if alias == "" {
		alias = g.Alias
	}

	n, err := s.reader.CountTransitions(ctx, tsdb.BoolTable, s.dev, g.Columns, alias, s.now().Add(-window))
	if err != nil {
		return 0, errors.New().WithData(ErrCount, struct {
			Group string
			Error string
		}{g.Name, err.Error()})
	}

	return n, nil
}

// Count is Transitions formatted as a decimal string.
func (s *Service) Count(ctx context.Context, g Group, alias string, window time.Duration) (string, error) {
	n, err := s.Transitions(ctx, g, alias, window)
	if err != nil {
		return "0", err
	}
	return strconv.FormatInt(n, 10), nil
}

// Publish sends the counts to the unit's AlertCount topic.
func (s *Service) Publish(ctx context.Context, c Counts) error {
	payload, err := json.Marshal(document{
		A:   strconv.FormatInt(c.Control, 10),
		PEM: strconv.FormatInt(c.Electrolysis, 10),
		PG:  strconv.FormatInt(c.Purification, 10),
	})
	if err != nil {
		return errors.New().Wrap(ErrPublish, err)
	}

	topic := broker.AlertCountTopic(s.unit)
	if err := s.pub.Publish(ctx, broker.Message{Topic: topic, Payload: payload, QoS: s.qos}); err != nil {
		s.log.Warn().Err(err).Str("topic", topic).Msg("Alert count publish failed")
		return err
	}

	return nil
}

// Persist stores the counts as one alert row stamped now.
func (s *Service) Persist(ctx context.Context, c Counts) error {
	batch := sample.Batch{{Time: s.now(), Values: &c}}
	if _, err := s.writer.Write(ctx, tsdb.AlertTable, s.dev, batch); err != nil {
		return errors.New().Wrap(ErrPersist, err)
	}

	s.log.Info().
		Int64("control", c.Control).
		Int64("electrolysis", c.Electrolysis).
		Int64("purification", c.Purification).
		Msg("Alert statistics persisted")

	return nil
}
