package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

const (
	fileParams = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	// readOnlyParam makes every reader connection refuse writes.
	readOnlyParam = "_pragma=query_only(1)"

	maxReaders = 4
)

// DB pairs a single connection writer with a small read only pool over the
// same database, so writers never queue behind each other for the lock.
type DB struct {
	Writer *sql.DB
	Reader *sql.DB
}

// NewDB opens the database file at path in WAL mode.
func NewDB(path string) (*DB, error) {
	return OpenDSN("file:" + path + "?" + fileParams)
}

// OpenDSN opens both pools for a modernc.org/sqlite DSN.
func OpenDSN(dsn string) (*DB, error) {
	writer, err := openPool(dsn, 1)
	if err != nil {
		return nil, fmt.Errorf("writer: %w", err)
	}
	reader, err := openPool(withParam(dsn, readOnlyParam), maxReaders)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("reader: %w", err)
	}
	return &DB{Writer: writer, Reader: reader}, nil
}

func openPool(dsn string, maxConns int) (*sql.DB, error) {
	pool, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	pool.SetMaxOpenConns(maxConns)
	if err := pool.Ping(); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func withParam(dsn, param string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}
	return dsn + "?" + param
}

func (db *DB) Close() error {
	return errors.Join(db.Reader.Close(), db.Writer.Close())
}
