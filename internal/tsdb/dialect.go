package tsdb

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// dayGroup holds the bound rows of one sub-table. Every row starts with the
// timestamp in unix milliseconds followed by the channel values.
type dayGroup struct {
	name string
	rows [][]any
}

type dialect interface {
	name() string
	quote(ident string) string
	columnType(c ColumnType) string

	provision(ctx context.Context, db *sql.DB, tables []Table, version int) error
	schemaVersion(ctx context.Context, db *sql.DB) (int, error)

	// insert writes every group. sqlite writes all or nothing; TDengine may
	// land a prefix of the statements, which a retry of the same batch
	// overwrites. known caches partitions created by earlier inserts and is
	// updated only after a successful write.
	insert(ctx context.Context, db *sql.DB, t Table, dev int, groups []dayGroup, known map[string]bool) (int64, error)

	transitionsQuery(t Table, dev int, cols []string, alias string, since time.Time) (string, []any)
	hourlyQuery(t Table, dev int, col string, start time.Time) (string, []any)
}

func dialectFor(driver string) (dialect, bool) {
	switch driver {
	case "sqlite3":
		return sqliteDialect{}, true
	case "taosRestful":
		return taosDialect{}, true
	default:
		return nil, false
	}
}

func columnList(d dialect, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.quote(c)
	}
	return strings.Join(quoted, ", ")
}

func placeholders(n int) string {
	if n == 0 {
		return "()"
	}
	return "(" + strings.Repeat("?, ", n-1) + "?)"
}

func latestQuery(d dialect, t Table, dev int, cols []string) (string, []any) {
	q := "SELECT " + columnList(d, cols) +
		" FROM " + d.quote(t.Super()) +
		" WHERE dev = ? ORDER BY ts DESC LIMIT 1"
	return q, []any{dev}
}

func anyRose(d dialect, cols []string) string {
	conds := make([]string, len(cols))
	for i, c := range cols {
		conds[i] = d.quote("d_"+c) + " = 1"
	}
	return strings.Join(conds, " OR ")
}
