package database

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Direction selects which way Migrate moves the schema.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// PostgresMigrationURL converts a postgres:// URL into the scheme the pgx v5
// migration driver registers.
func PostgresMigrationURL(url string) string {
	if rest, ok := strings.CutPrefix(url, "postgresql://"); ok {
		return "pgx5://" + rest
	}
	if rest, ok := strings.CutPrefix(url, "postgres://"); ok {
		return "pgx5://" + rest
	}
	return url
}

// SQLiteMigrationURL returns the migration URL for a SQLite file.
func SQLiteMigrationURL(path string) string {
	return "sqlite://" + path
}

// MigratePostgres applies the embedded PostgreSQL migrations.
func MigratePostgres(url string, dir Direction) error {
	return run("migrations/postgres", PostgresMigrationURL(url), dir)
}

// MigrateSQLite applies the embedded SQLite migrations.
func MigrateSQLite(path string, dir Direction) error {
	return run("migrations/sqlite", SQLiteMigrationURL(path), dir)
}

func run(sourceDir, databaseURL string, dir Direction) error {
	src, err := iofs.New(migrationsFS, sourceDir)
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	switch dir {
	case Up:
		err = m.Up()
	case Down:
		err = m.Down()
	default:
		return fmt.Errorf("unknown migration direction %q", dir)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations %s: %w", dir, err)
	}
	return nil
}
