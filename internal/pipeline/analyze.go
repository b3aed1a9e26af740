package pipeline

import (
	"context"
	"time"

	"codeberg.org/mutker/h2station/internal/alarm"
	"codeberg.org/mutker/h2station/internal/errors"
	"codeberg.org/mutker/h2station/internal/logger"
	"codeberg.org/mutker/h2station/internal/stats"
	"codeberg.org/mutker/h2station/internal/telemetry"
)

const (
	TaskMechanismH2Quality     = "mechanism_h2_quality"
	TaskMechanismH2Leakage     = "mechanism_h2_leakage"
	TaskMechanismLiquidLeakage = "mechanism_liquid_leakage"
	TaskCountControl           = "count_control"
	TaskCountElectrolysis      = "count_electrolysis"
	TaskCountPurification      = "count_purification"
	TaskAlertCount             = "alert_count"
	TaskHomeInfo               = "home_info"
)

var mechanismTasks = map[alarm.Mechanism]string{
	alarm.H2Quality:     TaskMechanismH2Quality,
	alarm.H2Leakage:     TaskMechanismH2Leakage,
	alarm.LiquidLeakage: TaskMechanismLiquidLeakage,
}

var countTasks = map[string]string{
	stats.Control.Name:      TaskCountControl,
	stats.Electrolysis.Name: TaskCountElectrolysis,
	stats.Purification.Name: TaskCountPurification,
}

// AnalyzeConfig sets the cadences of the analysis branch. AnalyzeEvery is
// counted in ticks, the others in analysis cycles.
type AnalyzeConfig struct {
	AnalyzeEvery      int
	StatsPersistEvery int
	HomeEvery         int
	Window            time.Duration
}

// Evaluator runs one alarm mechanism.
type Evaluator interface {
	Evaluate(ctx context.Context, m alarm.Mechanism) (int, error)
}

// Statistics counts, publishes and persists alarm onsets.
type Statistics interface {
	Transitions(ctx context.Context, g stats.Group, alias string, window time.Duration) (int64, error)
	Publish(ctx context.Context, c stats.Counts) error
	Persist(ctx context.Context, c stats.Counts) error
}

// Overview publishes the unit overview.
type Overview interface {
	Publish(ctx context.Context) error
}

// Analysis evaluates alarms and statistics over the stored samples every
// AnalyzeEvery ticks. It never waits on the acquisition branch.
type Analysis struct {
	cfg    AnalyzeConfig
	engine Evaluator
	stats  Statistics
	home   Overview
	cycle  uint64
	log    logger.Logger
}

func NewAnalysis(cfg AnalyzeConfig, engine Evaluator, st Statistics, home Overview, log logger.Logger) *Analysis {
	if cfg.Window <= 0 {
		cfg.Window = stats.DefaultWindow
	}

	return &Analysis{
		cfg:    cfg,
		engine: engine,
		stats:  st,
		home:   home,
		log:    log.With("analyze"),
	}
}

// Cycles returns the number of analysis cycles registered so far.
func (a *Analysis) Cycles() uint64 {
	return a.cycle
}

func (a *Analysis) Register(g *Graph, tick uint64) error {
	if tick%uint64(max(a.cfg.AnalyzeEvery, 1)) != 0 {
		return nil
	}

	cycle := a.cycle
	a.cycle++

	for _, m := range alarm.Mechanisms() {
		if err := g.Add(mechanismTasks[m], func(ctx context.Context) error {
			_, err := a.engine.Evaluate(ctx, m)
			return err
		}); err != nil {
			return err
		}
	}

	groups := stats.Groups()
	counts := make([]int64, len(groups))
	deps := make([]string, len(groups))

	for i, grp := range groups {
		deps[i] = countTasks[grp.Name]
		if err := g.Add(deps[i], func(ctx context.Context) error {
			n, err := a.stats.Transitions(ctx, grp, grp.Alias, a.cfg.Window)
			counts[i] = n
			return err
		}); err != nil {
			return err
		}
	}

	if err := g.Add(TaskAlertCount, func(ctx context.Context) error {
		var c stats.Counts
		for i, grp := range groups {
			c.Set(grp, counts[i])
		}

		// publish failures are logged by the publisher and not retried
		_ = a.stats.Publish(ctx, c)

		if every := uint64(max(a.cfg.StatsPersistEvery, 1)); cycle%every == every-1 {
			return a.stats.Persist(ctx, c)
		}
		return nil
	}, deps...); err != nil {
		return err
	}

	if a.home == nil {
		return nil
	}

	if every := uint64(max(a.cfg.HomeEvery, 1)); cycle%every != every-1 {
		return nil
	}

	return g.Add(TaskHomeInfo, func(ctx context.Context) error {
		err := a.home.Publish(ctx)
		if errors.HasCode(err, telemetry.ErrPublish) {
			return nil
		}
		return err
	})
}
