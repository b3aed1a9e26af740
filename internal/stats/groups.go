package stats

import "strconv"

// Group is a fixed set of boolean alarm channels counted together.
type Group struct {
	Name    string
	Alias   string
	Columns []string
}

func span(from, to int) []string {
	cols := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		cols = append(cols, "c"+strconv.Itoa(i))
	}
	return cols
}

func join(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

var (
	Control = Group{
		Name:  "control",
		Alias: "a",
		Columns: join(
			[]string{"c0", "c1"},
			span(42, 46),
			[]string{"c89"},
			span(94, 173),
		),
	}
	Electrolysis = Group{
		Name:  "electrolysis",
		Alias: "pem",
		Columns: join(
			[]string{"c421", "c422", "c424", "c426"},
			span(430, 449),
			span(464, 490),
		),
	}
	Purification = Group{
		Name:  "purification",
		Alias: "pg",
		Columns: join(
			[]string{"c357", "c359", "c360"},
			span(362, 370),
			span(384, 392),
		),
	}
)

// Groups lists the groups in publish order.
func Groups() []Group {
	return []Group{Control, Electrolysis, Purification}
}
