package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"

	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/lib/pq"

	"github.com/libopenstorage/credvault"
	"github.com/libopenstorage/credvault/pkg/schema"
)

const (
	Name = credvault.TypePostgres
	// DSNKey is the lib/pq connection string. Falls back to the environment
	// variable of the same name.
	DSNKey = "CREDVAULT_POSTGRES_DSN"
	// DBKey passes an already opened *sql.DB instead of a DSN.
	DBKey = "CREDVAULT_POSTGRES_DB"
	// SkipMigrationsKey set to true leaves schema management to the caller.
	SkipMigrationsKey = "CREDVAULT_POSTGRES_SKIP_MIGRATIONS"
	// ownerSetting is the session setting the row security policy reads.
	ownerSetting = "credvault.owner_id"
)

var (
	// ErrDSNNotSet is returned when neither a DSN nor a DB is configured.
	ErrDSNNotSet = errors.New("CREDVAULT_POSTGRES_DSN not set")
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var runMigrations = RunMigrations

// Compile-time interface satisfaction check.
var _ credvault.Store = (*Store)(nil)

// Store keeps credential records in a table protected by row level security.
// Each call runs in its own transaction bound to the caller's owner id, so
// the database refuses rows of any other owner even if a query forgot to
// filter on owner_id.
type Store struct {
	db *sql.DB
}

func New(
	config map[string]interface{},
) (credvault.Store, error) {
	skip, _ := config[SkipMigrationsKey].(bool)
	if db, ok := config[DBKey].(*sql.DB); ok && db != nil {
		return toStore(newStore(db, false, !skip))
	}

	dsn, _ := config[DSNKey].(string)
	if dsn == "" {
		dsn = os.Getenv(DSNKey)
	}
	if dsn == "" {
		return nil, ErrDSNNotSet
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return toStore(newStore(db, true, !skip))
}

func toStore(s *Store, err error) (credvault.Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// newStore wraps db, migrating it first when migrate is set. A pool the
// store opened itself is closed again if the migration fails.
func newStore(db *sql.DB, owned, migrate bool) (*Store, error) {
	if migrate {
		if err := runMigrations(db); err != nil {
			if owned {
				db.Close()
			}
			return nil, err
		}
	}
	return &Store{db: db}, nil
}

// RunMigrations brings the credentials table and its row security policy
// up to date.
func RunMigrations(db *sql.DB) error {
	driver, err := migratepostgres.WithInstance(db, &migratepostgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}
	return schema.Up(migrationsFS, "migrations", Name, driver)
}

func (s *Store) String() string {
	return Name
}

// asOwner runs fn in a transaction in which the row security policy only
// admits ownerID's rows.
func (s *Store) asOwner(ctx context.Context, ownerID string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT set_config($1, $2, true)`, ownerSetting, ownerID); err != nil {
		return fmt.Errorf("bind owner: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, record credvault.Record) error {
	if err := credvault.ValidateIdentifiers(record.OwnerID, record.ServiceName); err != nil {
		return err
	}

	const query = `INSERT INTO credentials (owner_id, service_name, encrypted_payload, integrity_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (owner_id, service_name) DO UPDATE SET
	encrypted_payload = EXCLUDED.encrypted_payload,
	integrity_hash = EXCLUDED.integrity_hash,
	updated_at = EXCLUDED.updated_at`

	return s.asOwner(ctx, record.OwnerID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			record.OwnerID,
			record.ServiceName,
			record.EncryptedPayload,
			record.IntegrityHash,
			record.CreatedAt.UTC(),
			record.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("upsert credential %q: %w", record.ServiceName, err)
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, ownerID, serviceName string) (*credvault.Record, error) {
	if err := credvault.ValidateIdentifiers(ownerID, serviceName); err != nil {
		return nil, err
	}

	const query = `SELECT owner_id, service_name, encrypted_payload, integrity_hash, created_at, updated_at
FROM credentials WHERE owner_id = $1 AND service_name = $2`

	var rec credvault.Record
	err := s.asOwner(ctx, ownerID, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, query, ownerID, serviceName).Scan(
			&rec.OwnerID,
			&rec.ServiceName,
			&rec.EncryptedPayload,
			&rec.IntegrityHash,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credvault.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %q: %w", serviceName, err)
	}
	return &rec, nil
}

func (s *Store) List(ctx context.Context, ownerID string) ([]credvault.Record, error) {
	if err := credvault.ValidateOwner(ownerID); err != nil {
		return nil, err
	}

	const query = `SELECT owner_id, service_name, encrypted_payload, integrity_hash, created_at, updated_at
FROM credentials WHERE owner_id = $1 ORDER BY service_name`

	var records []credvault.Record
	err := s.asOwner(ctx, ownerID, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, ownerID)
		if err != nil {
			return fmt.Errorf("list credentials: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var rec credvault.Record
			if err := rows.Scan(
				&rec.OwnerID,
				&rec.ServiceName,
				&rec.EncryptedPayload,
				&rec.IntegrityHash,
				&rec.CreatedAt,
				&rec.UpdatedAt,
			); err != nil {
				return fmt.Errorf("scan credential: %w", err)
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) Delete(ctx context.Context, ownerID, serviceName string) error {
	if err := credvault.ValidateIdentifiers(ownerID, serviceName); err != nil {
		return err
	}

	const query = `DELETE FROM credentials WHERE owner_id = $1 AND service_name = $2`
	return s.asOwner(ctx, ownerID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, ownerID, serviceName)
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
	})
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func init() {
	if err := credvault.RegisterStore(Name, New); err != nil {
		panic(err.Error())
	}
}
