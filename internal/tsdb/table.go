package tsdb

import (
	"math"
	"regexp"
	"time"

	"codeberg.org/mutker/h2station/internal/errors"
	"codeberg.org/mutker/h2station/internal/register"
)

// ColumnType is the storage type shared by every channel of a table.
type ColumnType uint8

const (
	ColFloat ColumnType = iota
	ColBool
	ColInt
)

func (c ColumnType) String() string {
	switch c {
	case ColFloat:
		return "float"
	case ColBool:
		return "bool"
	case ColInt:
		return "int"
	default:
		return "unknown"
	}
}

// Table is a logical time-series table. Rows land in one physical
// sub-table per calendar day and are read back through the super table.
type Table struct {
	Name    string
	Columns []string
	Type    ColumnType
}

var (
	AnalogTable = Table{Name: "analog", Columns: register.Columns(register.AnalogCols), Type: ColFloat}
	BoolTable   = Table{Name: "bool", Columns: register.Columns(register.BoolCols), Type: ColBool}
	AlertTable  = Table{Name: "alert", Columns: []string{"a", "pem", "pg"}, Type: ColInt}
)

// Tables lists every table the daemon writes.
func Tables() []Table {
	return []Table{AnalogTable, BoolTable, AlertTable}
}

// Super is the name rows are queried through.
func (t Table) Super() string {
	return "s_" + t.Name
}

// SubTable names the partition holding rows taken on ts's calendar day.
func (t Table) SubTable(ts time.Time) string {
	return t.Name + ts.Format("20060102")
}

func (t Table) HasColumn(col string) bool {
	for _, c := range t.Columns {
		if c == col {
			return true
		}
	}
	return false
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return errors.New().WithData(ErrInvalidName, name)
	}
	return nil
}

func (t Table) checkColumns(cols []string) error {
	for _, c := range cols {
		if !t.HasColumn(c) {
			return errors.New().WithData(ErrUnknownColumn, struct {
				Table  string
				Column string
			}{t.Name, c})
		}
	}
	return nil
}

// binder converts one channel value to its bound form.
type binder func(v any) (any, bool)

func (c ColumnType) binder() binder {
	switch c {
	case ColBool:
		return bindBool
	case ColInt:
		return bindInt
	default:
		return bindFloat
	}
}

// bindFloat stores non-finite readings as NULL.
func bindFloat(v any) (any, bool) {
	switch x := v.(type) {
	case float32:
		return finite(float64(x)), true
	case float64:
		return finite(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return nil, false
	}
}

func finite(x float64) any {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nil
	}
	return x
}

func bindBool(v any) (any, bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return int64(1), true
		}
		return int64(0), true
	case int:
		return int64(x), x == 0 || x == 1
	case int64:
		return x, x == 0 || x == 1
	default:
		return nil, false
	}
}

func bindInt(v any) (any, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	default:
		return nil, false
	}
}
