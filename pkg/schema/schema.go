// Package schema applies the embedded SQL migrations of the relational
// credential stores.
package schema

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

// Up applies the pending migrations found in dir of fsys through driver.
// Applied migrations are skipped, so it is safe to call on every start.
func Up(fsys fs.FS, dir, databaseName string, driver database.Driver) error {
	sourceDriver, err := iofs.New(fsys, dir)
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, databaseName, driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("run %s migrations: %w", databaseName, err)
	}

	if version, dirty, verr := m.Version(); verr == nil {
		logrus.WithFields(logrus.Fields{
			"database": databaseName,
			"version":  version,
			"dirty":    dirty,
		}).Debug("Migrated credential schema")
	}
	return nil
}
