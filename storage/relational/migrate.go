package relational

import (
	"database/sql"
	"embed"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver for golang-migrate

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/memerr"
)

//go:embed migrations
var migrationsFS embed.FS

// runMigrations applies every pending migration embedded in this
// package, the teacher's database.runMigrations pattern (embedded
// migration files applied on startup so a deployed binary never depends
// on an external migrations directory) adapted from Ent's dialect
// driver to a plain database/sql handle opened with the pgx stdlib
// driver, since this package queries through pgxpool rather than Ent.
func runMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return memerr.Wrap(memerr.ErrConnection, "relational: open migration connection: %v", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return memerr.Wrap(memerr.ErrConfiguration, "relational: create postgres migrate driver: %v", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return memerr.Wrap(memerr.ErrConfiguration, "relational: create migration source: %v", err)
	}
	defer source.Close()

	m, err := migrate.NewWithInstance("iofs", source, "memory", driver)
	if err != nil {
		return memerr.Wrap(memerr.ErrConfiguration, "relational: create migrate instance: %v", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return memerr.Wrap(memerr.ErrConnection, "relational: apply migrations: %v", err)
	}

	return nil
}
