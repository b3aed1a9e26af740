// Package tsdb persists decoded samples as day-partitioned time-series rows
// and answers the few read queries the alarm engine needs.
package tsdb

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"codeberg.org/mutker/h2station/internal/config"
	"codeberg.org/mutker/h2station/internal/errors"
	"codeberg.org/mutker/h2station/internal/logger"
)

// SchemaVersion changes only when persisted column semantics change.
// Channels are addressed by index, so a mismatch is never migrated away.
const SchemaVersion = 1

// DB is the single-owner storage connection shared by writers and readers.
type DB struct {
	mu      sync.Mutex
	db      *sql.DB
	dialect dialect
	loc     *time.Location
	known   map[string]bool
	log     logger.Logger
}

func Open(cfg config.StorageConfig, log logger.Logger) (*DB, error) {
	errFactory := errors.New()

	d, ok := dialectFor(cfg.Driver)
	if !ok {
		return nil, errFactory.WithData(ErrUnknownDriver, cfg.Driver)
	}

	loc, err := cfg.Loc()
	if err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	dsn := cfg.DSN
	if d.name() == "sqlite3" {
		dsn += "?_journal=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open(d.name(), dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrOpen, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if d.name() == "sqlite3" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrOpen, struct {
			Phase string
			Error string
		}{
			Phase: "ping",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("driver", d.name()).
		Str("location", loc.String()).
		Msg("Time-series store connected")

	return &DB{
		db:      db,
		dialect: d,
		loc:     loc,
		known:   make(map[string]bool),
		log:     log,
	}, nil
}

func (d *DB) Driver() string {
	return d.dialect.name()
}

// Provision creates the schema when absent. It refuses to touch a store
// written by a different schema version.
func (d *DB) Provision(ctx context.Context) error {
	errFactory := errors.New()

	d.mu.Lock()
	defer d.mu.Unlock()

	version, err := d.dialect.schemaVersion(ctx, d.db)
	if err != nil {
		return errFactory.Wrap(ErrSchemaCheck, err)
	}

	if version != 0 && version != SchemaVersion {
		return errFactory.WithData(ErrSchemaMismatch, struct {
			Found int
			Want  int
		}{version, SchemaVersion})
	}

	d.log.Debug().Int("found", version).Msg("Provisioning time-series schema")

	if err := d.dialect.provision(ctx, d.db, Tables(), SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInit, struct {
			Phase string
			Error string
		}{
			Phase: "provision",
			Error: err.Error(),
		})
	}

	d.log.Info().Int("version", SchemaVersion).Msg("Schema initialized successfully")

	return nil
}

// Check verifies the store carries the current schema.
func (d *DB) Check(ctx context.Context) error {
	errFactory := errors.New()

	d.mu.Lock()
	defer d.mu.Unlock()

	version, err := d.dialect.schemaVersion(ctx, d.db)
	if err != nil {
		return errFactory.Wrap(ErrSchemaCheck, err)
	}

	switch version {
	case SchemaVersion:
		return nil
	case 0:
		return errFactory.WithMessage(ErrSchemaMissing, "Time-series schema missing, run with --provision")
	default:
		return errFactory.WithData(ErrSchemaMismatch, struct {
			Found int
			Want  int
		}{version, SchemaVersion})
	}
}

func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dialect.name() == "sqlite3" {
		if _, err := d.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			d.log.Warn().Err(err).Msg("Failed to checkpoint WAL")
		}
	}

	if err := d.db.Close(); err != nil {
		return errors.New().WithData(ErrClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	d.log.Info().Msg("Time-series store closed")

	return nil
}
