package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Dialect names accepted by Up and Down.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

// Up applies every pending migration for the dialect.
func Up(db *sql.DB, dialect string) error {
	dir, err := prepare(dialect)
	if err != nil {
		return err
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func Down(db *sql.DB, dialect string) error {
	dir, err := prepare(dialect)
	if err != nil {
		return err
	}
	if err := goose.Down(db, dir); err != nil {
		return fmt.Errorf("migrations: down: %w", err)
	}
	return nil
}

// Version returns the current schema version.
func Version(db *sql.DB, dialect string) (int64, error) {
	if _, err := prepare(dialect); err != nil {
		return 0, err
	}
	v, err := goose.GetDBVersion(db)
	if err != nil {
		return 0, fmt.Errorf("migrations: version: %w", err)
	}
	return v, nil
}

func prepare(dialect string) (string, error) {
	var dir string
	switch dialect {
	case DialectPostgres:
		dir = "postgres"
	case DialectSQLite:
		dir = "sqlite"
	default:
		return "", fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}
	goose.SetBaseFS(files)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return "", fmt.Errorf("migrations: set dialect: %w", err)
	}
	return dir, nil
}
