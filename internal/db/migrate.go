package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationStatus represents the current migration state
type MigrationStatus struct {
	Version uint   `json:"version"`
	Dirty   bool   `json:"dirty"`
	Applied bool   `json:"applied"`
	Error   string `json:"error,omitempty"`
}

// MigrationRunner applies the embedded, versioned SQL migrations to Postgres.
type MigrationRunner struct {
	migrate *migrate.Migrate
	db      *sql.DB
	logger  *zap.Logger
}

// MigrationSource exposes the embedded migrations as a golang-migrate source.
func MigrationSource() (source.Driver, error) {
	return iofs.New(migrationFiles, "migrations")
}

// NewMigrationRunner opens databaseURL and prepares the migrator.
func NewMigrationRunner(databaseURL string, log *zap.Logger) (*MigrationRunner, error) {
	if databaseURL == "" {
		return nil, errors.New("migrations require DATABASE_URL")
	}
	if log == nil {
		log = zap.NewNop()
	}

	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	driver, err := postgres.WithInstance(conn, &postgres.Config{})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create PostgreSQL driver: %w", err)
	}

	src, err := MigrationSource()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}

	return &MigrationRunner{migrate: m, db: conn, logger: log.Named("migrate")}, nil
}

// Up applies all pending migrations.
func (r *MigrationRunner) Up() error {
	err := r.migrate.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		r.logger.Info("no migrations to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	r.logVersion("migrations applied")
	return nil
}

// Down rolls back the given number of migrations.
func (r *MigrationRunner) Down(steps int) error {
	if steps <= 0 {
		steps = 1
	}
	err := r.migrate.Steps(-steps)
	if errors.Is(err, migrate.ErrNoChange) {
		r.logger.Info("no migrations to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	r.logVersion("rollback completed")
	return nil
}

// Force sets the version without running migrations, for clearing a dirty state.
func (r *MigrationRunner) Force(version int) error {
	if err := r.migrate.Force(version); err != nil {
		return fmt.Errorf("force failed: %w", err)
	}
	r.logger.Warn("migration version forced", zap.Int("version", version))
	return nil
}

// Version returns the current migration version
func (r *MigrationRunner) Version() (MigrationStatus, error) {
	version, dirty, err := r.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return MigrationStatus{}, nil
	}
	if err != nil {
		return MigrationStatus{Error: err.Error()}, err
	}
	return MigrationStatus{Version: version, Dirty: dirty, Applied: version > 0}, nil
}

func (r *MigrationRunner) logVersion(msg string) {
	version, dirty, _ := r.migrate.Version()
	r.logger.Info(msg, zap.Uint("version", version), zap.Bool("dirty", dirty))
}

// Close closes the migration runner and database connection
func (r *MigrationRunner) Close() error {
	srcErr, dbErr := r.migrate.Close()
	if srcErr != nil {
		return fmt.Errorf("failed to close source: %w", srcErr)
	}
	if dbErr != nil {
		return fmt.Errorf("failed to close database: %w", dbErr)
	}
	return nil
}
