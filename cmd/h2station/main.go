package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/h2station/internal/alarm"
	"codeberg.org/mutker/h2station/internal/broker"
	"codeberg.org/mutker/h2station/internal/config"
	"codeberg.org/mutker/h2station/internal/errors"
	"codeberg.org/mutker/h2station/internal/fieldbus"
	"codeberg.org/mutker/h2station/internal/kv"
	"codeberg.org/mutker/h2station/internal/logger"
	"codeberg.org/mutker/h2station/internal/metrics"
	"codeberg.org/mutker/h2station/internal/pid"
	"codeberg.org/mutker/h2station/internal/pipeline"
	"codeberg.org/mutker/h2station/internal/sample"
	"codeberg.org/mutker/h2station/internal/stats"
	"codeberg.org/mutker/h2station/internal/telemetry"
	"codeberg.org/mutker/h2station/internal/tsdb"
	"github.com/redis/go-redis/v9"
)

const (
	connectTimeout  = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

// station owns every connection of the running daemon.
type station struct {
	cfg       *config.Config
	reader    fieldbus.Reader
	rdb       *redis.Client
	db        *tsdb.DB
	publisher broker.Publisher
	collector metrics.Collector
	acquire   *pipeline.Acquisition
	scheduler *pipeline.Scheduler
}

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load(os.Args[1:])
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug().Str("unit", cfg.Unit).Str("mode", string(cfg.Pipeline.Mode)).Msg("Config loaded")
}

func main() {
	if err := pid.Write(cfg.PIDDir, cfg.Unit); err != nil {
		logger.Fatal().Err(err).Str("unit", cfg.Unit).Msg("failed to write PID file")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	st, err := connect(ctx, cfg)
	if err != nil {
		_ = pid.Remove(cfg.PIDDir, cfg.Unit)
		var coded errors.Error
		if errors.As(err, &coded) {
			logger.FatalWithCode(coded).Msg("failed to initialize station")
		}
		logger.Fatal().Err(err).Msg("failed to initialize station")
	}

	if err := st.run(ctx); err != nil {
		logger.Error().Err(err).Msg("error in main loop")
	}

	st.cleanup()
}

// connect opens every connection the configured mode needs. Any failure
// is a bootstrap failure.
func connect(ctx context.Context, cfg *config.Config) (*station, error) {
	errFactory := errors.New()
	log := logger.Default()
	mode := cfg.Pipeline.Mode

	st := &station{cfg: cfg}

	ok := false
	defer func() {
		if !ok {
			st.close()
		}
	}()

	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if mode.Acquires() {
		reader, err := fieldbus.Dial(cfg.Fieldbus, log)
		if err != nil {
			return nil, err
		}
		st.reader = reader
	}

	var err error

	if st.rdb, err = kv.Connect(cctx, cfg.Redis, log); err != nil {
		return nil, err
	}

	if st.db, err = tsdb.Open(cfg.Storage, log); err != nil {
		return nil, err
	}

	if cfg.Provision {
		err = st.db.Provision(cctx)
	} else {
		err = st.db.Check(cctx)
	}
	if err != nil {
		return nil, err
	}

	if mode.Analyzes() {
		publisher, err := broker.Dial(cfg.MQTT, log)
		if err != nil {
			return nil, err
		}
		st.publisher = publisher
	}

	if st.collector, err = metrics.NewService(metrics.Config{Listen: cfg.Metrics.Listen}, log); err != nil {
		return nil, err
	}

	var stages []pipeline.Stage

	if mode.Acquires() {
		var queue *sample.Queue
		if cfg.Pipeline.Durable {
			queue = sample.NewQueue(st.rdb, cfg.Redis.Queue, log.With("queue"))
		}

		st.acquire = pipeline.NewAcquisition(pipeline.AcquireConfig{
			Device:         cfg.Device,
			FlushThreshold: cfg.Pipeline.FlushThreshold,
			MaxBuffered:    cfg.Pipeline.MaxBuffered,
			DrainEvery:     cfg.Pipeline.DrainEvery,
		}, st.reader, st.db, queue, st.collector, log)
		stages = append(stages, st.acquire)
	}

	if mode.Analyzes() {
		loc, err := cfg.Storage.Loc()
		if err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}

		qos := byte(cfg.MQTT.QoS)
		engine := alarm.NewEngine(cfg.Unit, cfg.Device, st.db, kv.NewRedisStore(st.rdb),
			alarm.NewPublisher(st.publisher, qos, log), loc, st.collector, log)
		counter := stats.NewService(cfg.Unit, cfg.Device, st.db, st.db, st.publisher, qos, log)

		home, err := telemetry.NewService(telemetry.DefaultConfig(), cfg.Unit, cfg.Device, st.db, st.publisher, qos, log)
		if err != nil {
			return nil, err
		}

		stages = append(stages, pipeline.NewAnalysis(pipeline.AnalyzeConfig{
			AnalyzeEvery:      cfg.Pipeline.AnalyzeEvery,
			StatsPersistEvery: cfg.Pipeline.StatsPersistEvery,
			HomeEvery:         cfg.Pipeline.HomeEvery,
			Window:            stats.DefaultWindow,
		}, engine, counter, home, log))
	}

	st.scheduler = pipeline.NewScheduler(cfg.Pipeline.Interval, cfg.Pipeline.Workers, st.collector, log, stages...)
	ok = true

	logger.Info().
		Str("unit", cfg.Unit).
		Str("mode", string(mode)).
		Str("storage", st.db.Driver()).
		Bool("durable", cfg.Pipeline.Durable).
		Msg("Station initialized")

	return st, nil
}

func (s *station) run(ctx context.Context) error {
	errFactory := errors.New()

	if s.cfg.Once {
		if err := s.scheduler.Tick(ctx); err != nil {
			return errFactory.Wrap(errors.ErrMainLoop, err)
		}
		return nil
	}

	go func() {
		if err := s.collector.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("metrics endpoint stopped")
		}
	}()

	if err := s.scheduler.Run(ctx); err != nil {
		return errFactory.Wrap(errors.ErrMainLoop, err)
	}

	return nil
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

// cleanup flushes buffered samples on a best-effort basis and releases
// every connection.
func (s *station) cleanup() {
	if s.acquire != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := s.acquire.Flush(ctx); err != nil {
			analog, bools := s.acquire.Buffered()
			logger.Error().Err(err).Int("analog", analog).Int("bool", bools).Msg("failed to flush buffered samples")
		}
		cancel()
	}

	s.close()

	if err := pid.Remove(s.cfg.PIDDir, s.cfg.Unit); err != nil {
		logger.Error().Err(err).Msg("failed to remove PID file")
	}

	logger.Info().Msg("Exiting...")
}

func (s *station) close() {
	if s.collector != nil {
		if err := s.collector.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to stop metrics endpoint")
		}
	}
	if s.reader != nil {
		if err := s.reader.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close fieldbus")
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close broker")
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close time-series store")
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close redis")
		}
	}
}
