// Package migrate applies the embedded session schema with golang-migrate.
package migrate

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/shreyash1231/DeviceloginBackendFastApi/internal/db"
)

// ErrNoChange is returned by golang-migrate when the schema is already at the target version.
// Run swallows it; it is exported for callers driving migrate directly.
var ErrNoChange = migrate.ErrNoChange

// Direction names accepted by Run.
const (
	Up      = "up"
	Down    = "down"
	Version = "version"
)

// Result reports the schema version after Run.
type Result struct {
	Version uint
	Dirty   bool
	// Applied is false when the schema was already at the target.
	Applied bool
}

// Run applies migrations in the given direction. Version only reads the current state.
func Run(dsn string, direction string) (Result, error) {
	if dsn == "" {
		return Result{}, errors.New("DATABASE_URL is not set; create a .env or export DATABASE_URL")
	}
	if direction != Up && direction != Down && direction != Version {
		return Result{}, fmt.Errorf("direction must be up, down or version, got %q", direction)
	}

	sourceDriver, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return Result{}, fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dsn)
	if err != nil {
		return Result{}, fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	res := Result{}
	switch direction {
	case Up:
		err = m.Up()
	case Down:
		err = m.Down()
	}
	switch {
	case direction == Version:
	case errors.Is(err, migrate.ErrNoChange):
	case err != nil:
		return Result{}, err
	default:
		res.Applied = true
	}

	v, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return res, fmt.Errorf("migrate version: %w", err)
	}
	res.Version, res.Dirty = v, dirty
	return res, nil
}
