package register

import (
	"math"
	"strconv"
)

// DecodeAnalog applies AnalogRules to the frame.
func DecodeAnalog(f *Frame) Analog {
	var out Analog

	n := 0
	for _, r := range AnalogRules {
		for i := r.First; i <= r.Last; i += r.Step {
			switch r.Kind {
			case Scaled:
				out[n] = float32(f[i]) * r.Scale
			case Float32ABCD:
				out[n] = math.Float32frombits(uint32(f[i])<<16 | uint32(f[i+1]))
			case Int32:
				out[n] = float32(int32(uint32(f[i+1])<<16 | uint32(f[i])))
			}
			n++
		}
	}

	return out
}

// DecodeBool byte-swaps every word in BoolRanges and unpacks it most
// significant bit first.
func DecodeBool(f *Frame) Bools {
	var out Bools

	n := 0
	for _, r := range BoolRanges {
		for i := r.First; i <= r.Last; i++ {
			w := f[i]>>8 | f[i]<<8
			for j := 15; j >= 0; j-- {
				out[n] = (w>>j)&1 == 1
				n++
			}
		}
	}

	return out
}

// ColumnName returns the storage column name of channel i.
func ColumnName(i int) string {
	return "c" + strconv.Itoa(i)
}

// Columns returns the column names c0..c(n-1).
func Columns(n int) []string {
	cols := make([]string, n)
	for i := range cols {
		cols[i] = ColumnName(i)
	}

	return cols
}
