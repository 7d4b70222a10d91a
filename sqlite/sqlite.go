package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/libopenstorage/credvault"
)

const (
	Name = credvault.TypeSqlite
	// PathKey is the database file. Falls back to the environment variable of
	// the same name.
	PathKey = "CREDVAULT_SQLITE_PATH"
	// DBKey passes an already opened *DB instead of a path.
	DBKey = "CREDVAULT_SQLITE_DB"
)

var (
	// ErrPathNotSet is returned when neither a path nor a DB is configured.
	ErrPathNotSet = errors.New("CREDVAULT_SQLITE_PATH not set")
)

// Compile-time interface satisfaction check.
var _ credvault.Store = (*Store)(nil)

// Store keeps credential records in the credentials table. Every statement is
// filtered by owner_id.
type Store struct {
	db *DB
}

func New(
	config map[string]interface{},
) (credvault.Store, error) {
	if db, ok := config[DBKey].(*DB); ok && db != nil {
		return NewStore(db)
	}

	path, _ := config[PathKey].(string)
	if path == "" {
		path = os.Getenv(PathKey)
	}
	if path == "" {
		return nil, ErrPathNotSet
	}

	db, err := NewDB(path)
	if err != nil {
		return nil, err
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore migrates db and returns a Store on top of it.
func NewStore(db *DB) (*Store, error) {
	if err := RunMigrations(db.Writer); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) String() string {
	return Name
}

// Upsert inserts or replaces the owner's credential for the service. The
// original created_at is kept on conflict.
func (s *Store) Upsert(ctx context.Context, record credvault.Record) error {
	if err := credvault.ValidateIdentifiers(record.OwnerID, record.ServiceName); err != nil {
		return err
	}

	const query = `INSERT INTO credentials (owner_id, service_name, encrypted_payload, integrity_hash, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (owner_id, service_name) DO UPDATE SET
	encrypted_payload = excluded.encrypted_payload,
	integrity_hash = excluded.integrity_hash,
	updated_at = excluded.updated_at`

	_, err := s.db.Writer.ExecContext(ctx, query,
		record.OwnerID,
		record.ServiceName,
		record.EncryptedPayload,
		record.IntegrityHash,
		formatTime(record.CreatedAt),
		formatTime(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert credential %q: %w", record.ServiceName, err)
	}
	return nil
}

// Get returns the owner's credential for the service.
func (s *Store) Get(ctx context.Context, ownerID, serviceName string) (*credvault.Record, error) {
	if err := credvault.ValidateIdentifiers(ownerID, serviceName); err != nil {
		return nil, err
	}

	const query = `SELECT owner_id, service_name, encrypted_payload, integrity_hash, created_at, updated_at
FROM credentials WHERE owner_id = ? AND service_name = ?`

	rec, err := scanRecord(s.db.Reader.QueryRowContext(ctx, query, ownerID, serviceName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credvault.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %q: %w", serviceName, err)
	}
	return rec, nil
}

// List returns the owner's credentials ordered by service name.
func (s *Store) List(ctx context.Context, ownerID string) ([]credvault.Record, error) {
	if err := credvault.ValidateOwner(ownerID); err != nil {
		return nil, err
	}

	const query = `SELECT owner_id, service_name, encrypted_payload, integrity_hash, created_at, updated_at
FROM credentials WHERE owner_id = ? ORDER BY service_name`

	rows, err := s.db.Reader.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var records []credvault.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return records, nil
}

// Delete removes the owner's credential for the service.
func (s *Store) Delete(ctx context.Context, ownerID, serviceName string) error {
	if err := credvault.ValidateIdentifiers(ownerID, serviceName); err != nil {
		return err
	}

	const query = `DELETE FROM credentials WHERE owner_id = ? AND service_name = ?`
	res, err := s.db.Writer.ExecContext(ctx, query, ownerID, serviceName)
	if err != nil {
		return fmt.Errorf("delete credential %q: %w", serviceName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete credential %q: %w", serviceName, err)
	}
	if n == 0 {
		return credvault.ErrNotFound
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*credvault.Record, error) {
	var (
		rec                  credvault.Record
		createdAt, updatedAt string
	)
	err := row.Scan(
		&rec.OwnerID,
		&rec.ServiceName,
		&rec.EncryptedPayload,
		&rec.IntegrityHash,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func init() {
	if err := credvault.RegisterStore(Name, New); err != nil {
		panic(err.Error())
	}
}
