// Package telemetry builds and publishes the unit overview document.
package telemetry

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"codeberg.org/mutker/h2station/internal/broker"
	"codeberg.org/mutker/h2station/internal/errors"
	"codeberg.org/mutker/h2station/internal/logger"
	"codeberg.org/mutker/h2station/internal/tsdb"
)

type Service struct {
	unit   string
	dev    int
	reader Reader
	pub    broker.Publisher
	qos    byte
	cfg    Config
	now    func() time.Time
	log    logger.Logger
}

func NewService(cfg Config, unit string, dev int, reader Reader, pub broker.Publisher, qos byte, log logger.Logger) (*Service, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	return &Service{
		unit:   unit,
		dev:    dev,
		reader: reader,
		pub:    pub,
		qos:    qos,
		cfg:    cfg,
		now:    time.Now,
		log:    log.With("telemetry"),
	}, nil
}

func (s *Service) format(v float64) string {
	return strconv.FormatFloat(v, 'f', s.cfg.Decimals, 64)
}

// Collect reads the latest values and hourly averages. Missing values are
// reported as zero, like an empty store.
func (s *Service) Collect(ctx context.Context) (*HomeInfo, error) {
	errFactory := errors.New()

	cols := make([]string, 0, len(operationChannels)+1)
	cols = append(cols, sysStatusColumn)
	for _, ch := range operationChannels {
		cols = append(cols, ch.column)
	}

	analog, err := s.reader.Latest(ctx, tsdb.AnalogTable, s.dev, cols)
	if err != nil {
		return nil, errFactory.Wrap(ErrCollect, err)
	}

	bools, err := s.reader.Latest(ctx, tsdb.BoolTable, s.dev, []string{pemSysColumn, pgSysColumn})
	if err != nil {
		return nil, errFactory.Wrap(ErrCollect, err)
	}

	info := &HomeInfo{
		Status: map[string]string{
			"unitStatus": "1",
			"sysStatus":  s.format(analog[sysStatusColumn]),
		},
		HealthLevel: map[string]string{
			"PEMSys": strconv.Itoa(boolToInt(bools[pemSysColumn])),
			"PGSys":  strconv.Itoa(boolToInt(bools[pgSysColumn])),
		},
		OperationData: make(map[string]string, len(operationChannels)),
		Average:       make(map[string][]string, len(operationChannels)),
	}

	now := s.now()
	for _, ch := range operationChannels {
		info.OperationData[ch.name] = s.format(analog[ch.column]) + ch.suffix

		avgs, err := s.reader.HourlyAverages(ctx, tsdb.AnalogTable, s.dev, ch.column, now, s.cfg.Hours)
		if err != nil {
			return nil, errFactory.Wrap(ErrCollect, err)
		}

		vals := make([]string, len(avgs))
		for i, v := range avgs {
			vals[i] = s.format(v)
		}
		info.Average[ch.name] = vals
	}

	return info, nil
}

// Publish collects the overview and sends it to the unit's HomeInfo topic.
func (s *Service) Publish(ctx context.Context) error {
	errFactory := errors.New()

	info, err := s.Collect(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(info)
	if err != nil {
		return errFactory.Wrap(ErrEncode, err)
	}

	topic := broker.HomeInfoTopic(s.unit)

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.pub.Publish(ctx, broker.Message{Topic: topic, Payload: payload, QoS: s.qos}); err != nil {
			s.log.Warn().Err(err).Str("topic", topic).Msg("Home info publish failed")
			return errFactory.Wrap(ErrPublish, err)
		}
	}

	s.log.Debug().Str("topic", topic).Int("bytes", len(payload)).Msg("Home info published")

	return nil
}
