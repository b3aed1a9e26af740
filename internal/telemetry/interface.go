package telemetry

import (
	"context"
	"time"

	"codeberg.org/mutker/h2station/internal/tsdb"
)

// Reader is the read side the overview needs.
type Reader interface {
	Latest(ctx context.Context, t tsdb.Table, dev int, cols []string) (tsdb.Row, error)
	HourlyAverages(ctx context.Context, t tsdb.Table, dev int, col string, now time.Time, hours int) ([]float64, error)
}

// HomeInfo is the unit overview shown on the plant dashboard.
type HomeInfo struct {
	Status        map[string]string   `json:"status"`
	HealthLevel   map[string]string   `json:"healthLevel"`
	OperationData map[string]string   `json:"operationData"`
	Average       map[string][]string `json:"average"`
}

// channel is one operating value shown with its unit of measure.
type channel struct {
	name   string
	column string
	suffix string
}

var operationChannels = []channel{
	{name: "pressure", column: "c1", suffix: "MPa"},
	{name: "purity", column: "c34", suffix: "%"},
	{name: "dew", column: "c5", suffix: "%"},
	{name: "makeFlow", column: "c201", suffix: "m3/h"},
}

const (
	sysStatusColumn = "c97"
	pemSysColumn    = "c159"
	pgSysColumn     = "c160"
)
