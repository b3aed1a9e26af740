package tsdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/h2station/internal/errors"
	"github.com/taosdata/driver-go/v3/common"
	_ "github.com/taosdata/driver-go/v3/taosRestful"
)

// taosDialect targets TDengine through its REST gateway. Partitions are
// created on demand by INSERT ... USING, so known is left untouched.
type taosDialect struct{}

func (taosDialect) name() string { return "taosRestful" }

func (taosDialect) quote(ident string) string {
	return "`" + ident + "`"
}

func (taosDialect) columnType(c ColumnType) string {
	switch c {
	case ColBool:
		return "BOOL"
	case ColInt:
		return "INT"
	default:
		return "FLOAT"
	}
}

func (d taosDialect) createSuperSQL(t Table) string {
	var b strings.Builder
	b.WriteString("CREATE STABLE IF NOT EXISTS ")
	b.WriteString(d.quote(t.Super()))
	b.WriteString(" (ts TIMESTAMP")
	typ := d.columnType(t.Type)
	for _, c := range t.Columns {
		b.WriteString(", ")
		b.WriteString(d.quote(c))
		b.WriteString(" ")
		b.WriteString(typ)
	}
	b.WriteString(") TAGS (dev INT)")
	return b.String()
}

func (d taosDialect) provision(ctx context.Context, db *sql.DB, tables []Table, version int) error {
	if _, err := db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS schema_versions (ts TIMESTAMP, version INT)"); err != nil {
		return err
	}

	for _, t := range tables {
		if _, err := db.ExecContext(ctx, d.createSuperSQL(t)); err != nil {
			return err
		}
	}

	_, err := db.ExecContext(ctx, "INSERT INTO schema_versions VALUES (NOW, ?)", version)
	return err
}

func (taosDialect) schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	rows, err := db.QueryContext(ctx, "SHOW TABLES LIKE 'schema_versions'")
	if err != nil {
		return 0, err
	}
	exists := rows.Next()
	rows.Close()
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRowContext(ctx,
		"SELECT version FROM schema_versions ORDER BY ts DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	return version, err
}

// taosStatementLimit is the longest statement the REST driver accepts once
// it has inlined the arguments, less some headroom.
const taosStatementLimit = common.MaxTaosSqlLen - 4096

// transitionLookback bounds how far before the window DIFF looks for the
// row preceding the first one inside it.
const transitionLookback = 24 * time.Hour

type taosStatement struct {
	query string
	args  []any
	rows  int
}

// insert writes the groups as multi-table statements no longer than the
// driver allows. Statements are not atomic together, but rows are keyed by
// timestamp so retrying a batch after a partial failure overwrites the rows
// that did land.
func (d taosDialect) insert(ctx context.Context, db *sql.DB, t Table, dev int, groups []dayGroup, _ map[string]bool) (int64, error) {
	stmts, err := d.statements(t, dev, groups)
	if err != nil {
		return 0, err
	}

	var affected int64
	for _, s := range stmts {
		res, err := db.ExecContext(ctx, s.query, s.args...)
		if err != nil {
			return affected, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return affected, err
		}
		affected += n
	}

	return affected, nil
}

func (d taosDialect) statements(t Table, dev int, groups []dayGroup) ([]taosStatement, error) {
	const head = "INSERT INTO"

	rowText := " " + placeholders(len(t.Columns)+1)
	tag := strconv.Itoa(dev)

	var (
		stmts []taosStatement
		b     strings.Builder
		cur   taosStatement
		size  int
	)

	flush := func() {
		if cur.rows == 0 {
			return
		}
		cur.query = b.String()
		stmts = append(stmts, cur)
		cur = taosStatement{}
		b.Reset()
		size = 0
	}

	for _, g := range groups {
		prefix := " " + d.quote(g.name) + " USING " + d.quote(t.Super()) + " TAGS (?) VALUES"
		open := false

		for _, row := range g.rows {
			n, err := rowLength(row)
			if err != nil {
				return nil, err
			}

			extra := n + 1
			if !open {
				extra += len(prefix) - 1 + len(tag)
			}
			if cur.rows > 0 && size+extra > taosStatementLimit {
				flush()
				open = false
				extra = n + 1 + len(prefix) - 1 + len(tag)
			}

			if cur.rows == 0 {
				b.WriteString(head)
				size = len(head)
			}
			if !open {
				b.WriteString(prefix)
				cur.args = append(cur.args, dev)
				open = true
			}
			b.WriteString(rowText)
			cur.args = append(cur.args, row...)
			cur.rows++
			size += extra
		}
	}
	flush()

	return stmts, nil
}

// rowLength is the length of one bound row once the driver has inlined its
// values, parentheses and separators included.
func rowLength(row []any) (int, error) {
	vals := make([]driver.Value, len(row))
	for i, v := range row {
		vals[i] = v
	}

	text, err := common.InterpolateParams(placeholders(len(row)), common.ValueArgsToNamedValueArgs(vals))
	if err != nil {
		return 0, err
	}

	return len(text), nil
}

func (d taosDialect) transitionsQuery(t Table, dev int, cols []string, alias string, since time.Time) (string, []any) {
	diffs := make([]string, len(cols))
	for i, c := range cols {
		diffs[i] = "DIFF(CAST(" + d.quote(c) + " AS INT)) AS " + d.quote("d_"+c)
	}

	q := "SELECT COUNT(*) AS " + d.quote(alias) + " FROM (" +
		"SELECT ts, " + strings.Join(diffs, ", ") +
		" FROM " + d.quote(t.Super()) +
		" WHERE dev = ? AND ts >= ?" +
		") WHERE ts > ? AND (" + anyRose(d, cols) + ")"

	return q, []any{dev, since.Add(-transitionLookback).UnixMilli(), since.UnixMilli()}
}

func (d taosDialect) hourlyQuery(t Table, dev int, col string, start time.Time) (string, []any) {
	q := "SELECT _wstart, AVG(" + d.quote(col) + ")" +
		" FROM " + d.quote(t.Super()) +
		" WHERE dev = ? AND ts >= ?" +
		" INTERVAL(1h)"
	return q, []any{dev, start.UnixMilli()}
}
