// Package db persists wallet authorizations and node state in a local
// SQLite database.
package db

import (
	"embed"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	_ "github.com/glebarez/go-sqlite" // pure-go sqlite driver
)

//go:embed schema/*.sql
var embedSchema embed.FS

// SqliteDatabaseConfig configures the database location.
type SqliteDatabaseConfig struct {
	// File is the database path; ":memory:" gives an ephemeral database.
	File string
}

// Database wraps the sqlite connection pair.
//
// SQLite allows one writer at a time, so writes go through a dedicated
// single-connection handle guarded by a mutex while reads share a pool.
type Database struct {
	logger logrus.FieldLogger
	config *SqliteDatabaseConfig

	ReaderDb *sqlx.DB
	writerDb *sqlx.DB

	writerMutex sync.Mutex
	queryCount  atomic.Uint64
}

// NewDatabase creates an unopened database handle.
func NewDatabase(config *SqliteDatabaseConfig, logger logrus.FieldLogger) *Database {
	return &Database{
		logger: logger.WithField("module", "db"),
		config: config,
	}
}

// Init opens the reader and writer connections.
func (d *Database) Init() error {
	writer, err := sqlx.Open("sqlite", d.config.File)
	if err != nil {
		return fmt.Errorf("open sqlite writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	// An in-memory database exists per connection, so the reader must share
	// the writer's handle there.
	reader := writer
	if d.config.File != ":memory:" {
		reader, err = sqlx.Open("sqlite", d.config.File)
		if err != nil {
			_ = writer.Close()
			return fmt.Errorf("open sqlite reader: %w", err)
		}
	}

	d.writerDb = writer
	d.ReaderDb = reader
	d.logger.WithField("file", d.config.File).Debug("database opened")
	return nil
}

// Close releases both connections.
func (d *Database) Close() error {
	if d.ReaderDb != nil && d.ReaderDb != d.writerDb {
		_ = d.ReaderDb.Close()
	}
	if d.writerDb != nil {
		return d.writerDb.Close()
	}
	return nil
}

// ApplyEmbeddedDbSchema runs embedded goose migrations.
//
// version -2 migrates to the latest version, -1 applies exactly one step,
// any other value migrates up to that version.
func (d *Database) ApplyEmbeddedDbSchema(version int64) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(embedSchema)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}

	d.writerMutex.Lock()
	defer d.writerMutex.Unlock()

	switch version {
	case -2:
		return goose.Up(d.writerDb.DB, "schema")
	case -1:
		return goose.UpByOne(d.writerDb.DB, "schema")
	default:
		return goose.UpTo(d.writerDb.DB, "schema", version)
	}
}

// RunDBTransaction executes handler inside a write transaction, committing
// on success and rolling back on error.
func (d *Database) RunDBTransaction(handler func(tx *sqlx.Tx) error) error {
	d.writerMutex.Lock()
	defer d.writerMutex.Unlock()
	d.trackQuery()

	tx, err := d.writerDb.Beginx()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := handler(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// QueryCount returns the number of queries issued since startup.
func (d *Database) QueryCount() uint64 {
	return d.queryCount.Load()
}

func (d *Database) trackQuery() {
	d.queryCount.Add(1)
}
