package sqlite

import (
	"database/sql"
	"embed"
	"fmt"

	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"

	"github.com/libopenstorage/credvault/pkg/schema"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunMigrations brings the credentials table of db up to date.
func RunMigrations(db *sql.DB) error {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}
	return schema.Up(migrationsFS, "migrations", Name, driver)
}
