// Package metrics exposes pipeline and alarm counters to Prometheus.
package metrics

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"codeberg.org/mutker/h2station/internal/errors"
	"codeberg.org/mutker/h2station/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type service struct {
	cfg      Config
	registry *prometheus.Registry
	log      logger.Logger

	tickDuration    prometheus.Histogram
	tickOverruns    prometheus.Counter
	taskFailures    *prometheus.CounterVec
	rowsWritten     *prometheus.CounterVec
	buffered        *prometheus.GaugeVec
	alerts          *prometheus.CounterVec
	publishFailures *prometheus.CounterVec

	mu     sync.Mutex
	server *http.Server
}

// No-op implementation
type noopCollector struct{}

func NewService(cfg Config, log logger.Logger) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	// If metrics are disabled, return a no-op collector
	if !cfg.Enabled() {
		log.Debug().Msg("Metrics endpoint disabled, using no-op collector")
		return &noopCollector{}, nil
	}

	if cfg.Path == "" {
		cfg.Path = defaultPath
	}

	s, err := newService(cfg, log)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("listen", cfg.Listen).
		Str("path", cfg.Path).
		Msg("Metrics service initialized successfully")

	return s, nil
}

func newService(cfg Config, log logger.Logger) (*service, error) {
	s := &service{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		log:      log.With("metrics"),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one pipeline tick.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		tickOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_overruns_total",
			Help:      "Ticks that took longer than the interval.",
		}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_failures_total",
			Help:      "Failed pipeline tasks.",
		}, []string{"task"}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows written to the time-series store.",
		}, []string{"table"}),
		buffered: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffered_samples",
			Help:      "Samples waiting to be flushed.",
		}, []string{"table"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts raised per mechanism.",
		}, []string{"mechanism"}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Broker publishes that failed or timed out.",
		}, []string{"topic"}),
	}

	cs := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		s.tickDuration,
		s.tickOverruns,
		s.taskFailures,
		s.rowsWritten,
		s.buffered,
		s.alerts,
		s.publishFailures,
	}
	for _, c := range cs {
		if err := s.registry.Register(c); err != nil {
			return nil, errors.New().Wrap(ErrRegister, err)
		}
	}

	return s, nil
}

func (s *service) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

func (s *service) Start(ctx context.Context) error {
	errFactory := errors.New()

	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return errFactory.New(errors.ErrAlreadyRunning)
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		s.mu.Unlock()
		return errFactory.Wrap(ErrServe, err)
	}

	srv := &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.server = srv
	s.mu.Unlock()

	s.log.Info().Str("listen", ln.Addr().String()).Str("path", s.cfg.Path).Msg("Metrics endpoint listening")

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errFactory.Wrap(ErrServe, err)
	}

	return nil
}

func (s *service) Close() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownDeadline*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return errors.New().Wrap(ErrServiceShutdown, err)
	}
	return nil
}

func (s *service) TickObserved(elapsed time.Duration, overrun bool) {
	s.tickDuration.Observe(elapsed.Seconds())
	if overrun {
		s.tickOverruns.Inc()
	}
}

func (s *service) TaskFailed(task string) {
	s.taskFailures.WithLabelValues(task).Inc()
}

func (s *service) RowsWritten(table string, n int64) {
	s.rowsWritten.WithLabelValues(table).Add(float64(n))
}

func (s *service) Buffered(table string, n int) {
	s.buffered.WithLabelValues(table).Set(float64(n))
}

func (s *service) AlertsRaised(mechanism string, n int) {
	s.alerts.WithLabelValues(mechanism).Add(float64(n))
}

func (s *service) PublishFailed(topic string) {
	s.publishFailures.WithLabelValues(topic).Inc()
}

// No-op implementation
func (*noopCollector) TickObserved(time.Duration, bool) {}
func (*noopCollector) TaskFailed(string)                {}
func (*noopCollector) RowsWritten(string, int64)        {}
func (*noopCollector) Buffered(string, int)             {}
func (*noopCollector) AlertsRaised(string, int)         {}
func (*noopCollector) PublishFailed(string)             {}

func (*noopCollector) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (*noopCollector) Close() error {
	return nil
}
