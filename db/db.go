// Package db is the persistence façade for the pipeline: a thin layer
// over an embedded single-file SQLite database exposing the schema
// shared by every stage, one prepared INSERT per table, transactional
// batching, and merging of per-sample databases.
//
// All writes are serialized by the façade's mutex, so prepared
// statements may be shared across worker goroutines. Reads go through
// a separate connection pool: with WAL journaling, streaming a query
// while inserting derived rows is safe, but readers observe only
// committed state — stages that consume another stage's output must
// run after its transaction ends.
package db

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"

	// Embedded SQLite driver.
	_ "modernc.org/sqlite"
)

// DefaultCacheSize is the page-cache floor in KiB; CacheSize warns
// below it.
const DefaultCacheSize = 2000

const busyTimeoutMs = 30000

// DB is an open pipeline database.
type DB struct {
	w    *sql.DB // single-connection write pool; owns transactions
	r    *sql.DB // read pool
	path string
	mu   sync.Mutex
}

func dsn(path string, create bool) string {
	s := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		path, busyTimeoutMs)
	if !create {
		s += "&mode=rw"
	}
	return s
}

func open(path string, create bool) (*DB, error) {
	w, err := sql.Open("sqlite", dsn(path, create))
	if err != nil {
		return nil, errors.Wrapf(err, "db: open %s", path)
	}
	// Explicit BEGIN/END pairs and the prepared statements must share
	// one session.
	w.SetMaxOpenConns(1)
	if err := w.Ping(); err != nil {
		_ = w.Close()
		return nil, errors.Wrapf(err, "db: open %s", path)
	}
	r, err := sql.Open("sqlite", dsn(path, false))
	if err != nil {
		_ = w.Close()
		return nil, errors.Wrapf(err, "db: open %s", path)
	}
	return &DB{w: w, r: r, path: path}, nil
}

// Create creates (or resets) the database at path with the pipeline
// schema.
func Create(path string) (*DB, error) {
	d, err := open(path, true)
	if err != nil {
		return nil, err
	}
	log.Debug.Printf("db: create tables into %s", path)
	if err := d.Exec(schema); err != nil {
		_ = d.Close()
		return nil, err
	}
	err = d.Exec("INSERT INTO schema_version (major, minor) VALUES (?, ?)",
		SchemaMajorVersion, SchemaMinorVersion)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// Connect opens an existing database at path.
func Connect(path string) (*DB, error) {
	d, err := open(path, false)
	if err != nil {
		return nil, err
	}
	var major, minor int
	row := d.r.QueryRow("SELECT major, minor FROM schema_version")
	if err := row.Scan(&major, &minor); err != nil {
		_ = d.Close()
		return nil, errors.Wrapf(err, "db: %s: missing schema version", path)
	}
	if major != SchemaMajorVersion {
		_ = d.Close()
		return nil, errors.Errorf("db: %s: schema version %d.%d is incompatible with %d.%d",
			path, major, minor, SchemaMajorVersion, SchemaMinorVersion)
	}
	return d, nil
}

// Path returns the file backing this database.
func (d *DB) Path() string { return d.path }

// Close closes the database.
func (d *DB) Close() error {
	rerr := d.r.Close()
	werr := d.w.Close()
	if werr != nil {
		return errors.Wrapf(werr, "db: close %s", d.path)
	}
	return errors.Wrapf(rerr, "db: close %s", d.path)
}

// Exec runs one or more SQL statements on the write connection.
func (d *DB) Exec(query string, args ...interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.w.Exec(query, args...)
	return errors.Wrapf(err, "db: exec %s", d.path)
}

// Query runs a read-only query. The caller owns the returned rows.
func (d *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	rows, err := d.r.Query(query, args...)
	return rows, errors.Wrapf(err, "db: query %s", d.path)
}

// QueryRow runs a query expected to return at most one row.
func (d *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	return d.r.QueryRow(query, args...)
}

// CacheSize sets the SQLite page cache to kib KiB.
func (d *DB) CacheSize(kib int) error {
	if kib < DefaultCacheSize {
		log.Printf("db: cache size of %dKiB is lesser than the default value of %dKiB",
			kib, DefaultCacheSize)
	}
	return d.Exec(fmt.Sprintf("PRAGMA cache_size=-%d", kib))
}

// BeginTransaction opens an explicit transaction to batch writes.
func (d *DB) BeginTransaction() error {
	return d.Exec("BEGIN TRANSACTION")
}

// EndTransaction commits the current transaction.
func (d *DB) EndTransaction() error {
	return d.Exec("END TRANSACTION")
}

// Stmt is a prepared statement whose executions are serialized through
// the owning façade.
type Stmt struct {
	db   *DB
	stmt *sql.Stmt
	text string
}

// Prepare compiles query on the write connection.
func (d *DB) Prepare(query string) (*Stmt, error) {
	stmt, err := d.w.Prepare(query)
	if err != nil {
		return nil, errors.Wrapf(err, "db: prepare %q", query)
	}
	return &Stmt{db: d, stmt: stmt, text: query}, nil
}

// Exec runs the statement with args under the façade mutex.
func (s *Stmt) Exec(args ...interface{}) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	_, err := s.stmt.Exec(args...)
	return errors.Wrapf(err, "db: exec %q", s.text)
}

// Close releases the statement.
func (s *Stmt) Close() error {
	return s.stmt.Close()
}
