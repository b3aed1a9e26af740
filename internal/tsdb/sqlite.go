package tsdb

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"codeberg.org/mutker/h2station/internal/errors"
	_ "github.com/mattn/go-sqlite3"
)

// viewSpan bounds how many day partitions the s_<table> view unions.
const viewSpan = 31

const createVersionsSQL = `
	CREATE TABLE IF NOT EXISTS schema_versions (
		version     INTEGER PRIMARY KEY,
		applied_at  TEXT NOT NULL
	)`

type sqliteDialect struct{}

func (sqliteDialect) name() string { return "sqlite3" }

func (sqliteDialect) quote(ident string) string {
	return `"` + ident + `"`
}

func (sqliteDialect) columnType(c ColumnType) string {
	switch c {
	case ColFloat:
		return "REAL"
	default:
		return "INTEGER"
	}
}

func (d sqliteDialect) createTemplateSQL(t Table) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(d.quote(t.Name))
	b.WriteString(" (ts INTEGER NOT NULL, dev INTEGER NOT NULL")
	typ := d.columnType(t.Type)
	for _, c := range t.Columns {
		b.WriteString(", ")
		b.WriteString(d.quote(c))
		b.WriteString(" ")
		b.WriteString(typ)
	}
	b.WriteString(")")
	return b.String()
}

func (d sqliteDialect) provision(ctx context.Context, db *sql.DB, tables []Table, version int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, createVersionsSQL); err != nil {
		return err
	}

	for _, t := range tables {
		if _, err := tx.ExecContext(ctx, d.createTemplateSQL(t)); err != nil {
			return err
		}
		if err := d.refreshView(ctx, tx, t); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO schema_versions (version, applied_at)
		VALUES (?, datetime('now'))`, version); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true

	return nil
}

func (sqliteDialect) schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var exists bool
	if err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sqlite_master
			WHERE type='table' AND name='schema_versions'
		)`).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var version int
	err := db.QueryRowContext(ctx, `
		SELECT version
		FROM schema_versions
		ORDER BY version DESC
		LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	return version, err
}

// refreshView points s_<table> at the template and the newest partitions.
func (d sqliteDialect) refreshView(ctx context.Context, tx *sql.Tx, t Table) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type='table' AND name GLOB ?
		ORDER BY name DESC
		LIMIT ?`, t.Name+"[0-9]*", viewSpan)
	if err != nil {
		return err
	}

	parts := []string{"SELECT * FROM " + d.quote(t.Name)}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		parts = append(parts, "SELECT * FROM "+d.quote(name))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DROP VIEW IF EXISTS "+d.quote(t.Super())); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, "CREATE VIEW "+d.quote(t.Super())+" AS "+strings.Join(parts, " UNION ALL "))
	return err
}

func (d sqliteDialect) insert(ctx context.Context, db *sql.DB, t Table, dev int, groups []dayGroup, known map[string]bool) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var created []string
	for _, g := range groups {
		if known[g.name] {
			continue
		}
		if _, err := tx.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+d.quote(g.name)+
			" AS SELECT * FROM "+d.quote(t.Name)+" WHERE 0"); err != nil {
			return 0, err
		}
		created = append(created, g.name)
	}
	if len(created) > 0 {
		if err := d.refreshView(ctx, tx, t); err != nil {
			return 0, err
		}
	}

	cols := append([]string{"ts", "dev"}, t.Columns...)
	var affected int64
	for _, g := range groups {
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO "+d.quote(g.name)+
			" ("+columnList(d, cols)+") VALUES "+placeholders(len(cols)))
		if err != nil {
			return 0, err
		}

		args := make([]any, 0, len(cols))
		for _, row := range g.rows {
			args = append(args[:0], row[0], dev)
			args = append(args, row[1:]...)

			res, err := stmt.ExecContext(ctx, args...)
			if err != nil {
				stmt.Close()
				return 0, err
			}
			n, _ := res.RowsAffected()
			affected += n
		}
		stmt.Close()
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true

	for _, name := range created {
		known[name] = true
	}

	return affected, nil
}

func (d sqliteDialect) transitionsQuery(t Table, dev int, cols []string, alias string, since time.Time) (string, []any) {
	diffs := make([]string, len(cols))
	for i, c := range cols {
		diffs[i] = d.quote(c) + " - LAG(" + d.quote(c) + ") OVER (ORDER BY ts) AS " + d.quote("d_"+c)
	}

	super := d.quote(t.Super())
	q := "SELECT COUNT(*) AS " + d.quote(alias) + " FROM (" +
		"SELECT ts, " + strings.Join(diffs, ", ") +
		" FROM " + super +
		" WHERE dev = ? AND ts >= COALESCE((SELECT MAX(ts) FROM " + super + " WHERE dev = ? AND ts <= ?), ?)" +
		") WHERE ts > ? AND (" + anyRose(d, cols) + ")"

	ms := since.UnixMilli()
	return q, []any{dev, dev, ms, ms, ms}
}

func (d sqliteDialect) hourlyQuery(t Table, dev int, col string, start time.Time) (string, []any) {
	q := "SELECT ts / 3600000 AS bucket, AVG(" + d.quote(col) + ")" +
		" FROM " + d.quote(t.Super()) +
		" WHERE dev = ? AND ts >= ?" +
		" GROUP BY bucket ORDER BY bucket"
	return q, []any{dev, start.UnixMilli()}
}
