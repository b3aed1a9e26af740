package alarm

import "codeberg.org/mutker/h2station/internal/tsdb"

// Mechanism is one of the fixed alarm mechanisms of a unit.
type Mechanism uint8

const (
	H2Quality Mechanism = iota
	H2Leakage
	LiquidLeakage
)

type definition struct {
	name    string
	state   string
	table   tsdb.Table
	columns []string
	message string
	fires   func(index int, v float64) bool
}

// liquidSplit is the column index where liquid-leakage switches thresholds.
const liquidSplit = 4

// Descriptions are consumed verbatim by the plant dashboards.
var definitions = [...]definition{
	H2Quality: {
		name:    "H2Quality",
		state:   "H2Quality",
		table:   tsdb.AnalogTable,
		columns: []string{"c34", "c35"},
		message: "氢气品质差",
		fires:   func(_ int, v float64) bool { return v < 0.96 },
	},
	H2Leakage: {
		name:    "H2Leakage",
		state:   "H2Leakage",
		table:   tsdb.BoolTable,
		columns: []string{"c158", "c173"},
		message: "发电机漏氢",
		fires:   func(_ int, v float64) bool { return v != 0 },
	},
	LiquidLeakage: {
		name:    "LiquidLeakage",
		state:   "liquidLeakage",
		table:   tsdb.AnalogTable,
		columns: []string{"c36", "c37", "c38", "c39", "c27", "c28", "c29", "c30"},
		message: "发电机漏液",
		fires: func(i int, v float64) bool {
			if i < liquidSplit {
				return v > 650
			}
			return v > 10
		},
	},
}

// Mechanisms lists every mechanism in evaluation order.
func Mechanisms() []Mechanism {
	return []Mechanism{H2Quality, H2Leakage, LiquidLeakage}
}

func (m Mechanism) def() *definition {
	return &definitions[m]
}

// String is the mechanism's topic name.
func (m Mechanism) String() string {
	if int(m) >= len(definitions) {
		return "unknown"
	}
	return m.def().name
}

// Key is the hash holding the mechanism's per-column state for unit.
func (m Mechanism) Key(unit string) string {
	return "H2_" + unit + ":Mechanism:" + m.def().state
}

func (m Mechanism) Table() tsdb.Table {
	return m.def().table
}

func (m Mechanism) Columns() []string {
	return m.def().columns
}

func (m Mechanism) Message() string {
	return m.def().message
}

// Fires applies the mechanism's threshold to the value of the column at
// position index in Columns.
func (m Mechanism) Fires(index int, v float64) bool {
	return m.def().fires(index, v)
}
