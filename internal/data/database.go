package data

import (
	"embed"
	"fmt"
	"go-wiki-engine/internal/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

// NewDB creates a new database connection pool for the configured driver.
// Supported drivers are "mysql", "sqlite" (pure Go) and "sqlite3" (cgo).
func NewDB(cfg config.DBConfig) (*sqlx.DB, error) {
	// sqlx.Connect opens a connection and pings it to verify it's alive.
	db, err := sqlx.Connect(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if isSQLite(cfg.Driver) {
		// A single writer connection; also keeps in-memory databases alive
		// across calls.
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	}
	return db, nil
}

// ApplyMigrations runs all up migrations embedded in the binary.
// MySQL DSNs must enable multiStatements.
func ApplyMigrations(db *sqlx.DB, driver string) error {
	dir := "migrations/sqlite"
	if driver == "mysql" {
		dir = "migrations/mysql"
	}
	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	var target database.Driver
	switch driver {
	case "mysql":
		target, err = mysql.WithInstance(db.DB, &mysql.Config{})
	case "sqlite":
		target, err = sqlite.WithInstance(db.DB, &sqlite.Config{})
	case "sqlite3":
		target, err = sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	default:
		return fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, target)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	// Up applies all available up migrations. The migrate instance is not
	// closed because that would close db as well.
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func isSQLite(driver string) bool {
	return driver == "sqlite" || driver == "sqlite3"
}
