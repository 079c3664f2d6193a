// Package db provides the durable scan store on top of gorm, backed by
// PostgreSQL in production and SQLite for local runs and tests.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"apex-guard/pkg/models"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Database wraps the GORM database instance
type Database struct {
	DB     *gorm.DB
	driver string
	logger *zap.Logger
}

// Config holds database configuration
type Config struct {
	Driver string

	// Postgres: URL wins over the individual fields when set.
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	TimeZone string

	// SQLite file path, or ":memory:"
	SQLitePath string

	// AutoMigrate runs gorm AutoMigrate on connect. Production Postgres uses
	// the versioned SQL migrations instead.
	AutoMigrate bool

	MaxOpenConns int
	MaxIdleConns int
}

// DefaultConfig returns default database configuration
func DefaultConfig() *Config {
	return &Config{
		Driver:       DriverPostgres,
		Host:         "localhost",
		Port:         5432,
		User:         "postgres",
		DBName:       "apex_guard",
		SSLMode:      "disable",
		TimeZone:     "UTC",
		SQLitePath:   "apex-guard.db",
		AutoMigrate:  true,
		MaxOpenConns: 50,
		MaxIdleConns: 10,
	}
}

// DSN returns the Postgres connection string.
func (c *Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode, c.TimeZone,
	)
}

// NewDatabase opens a connection and, when configured, migrates the schema.
func NewDatabase(config *Config, log *zap.Logger) (*Database, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("db")

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var dialector gorm.Dialector
	switch config.Driver {
	case DriverPostgres, "":
		dialector = postgres.Open(config.DSN())
	case DriverSQLite:
		path := config.SQLitePath
		if path == "" {
			path = ":memory:"
		}
		// foreign keys are off by default in SQLite
		dialector = sqlite.Open(path + "?_pragma=foreign_keys(1)")
	default:
		return nil, fmt.Errorf("unsupported database driver %q", config.Driver)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if config.Driver == DriverSQLite {
		// a single connection keeps ":memory:" databases alive and serializes writes
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	database := &Database{DB: db, driver: config.Driver, logger: log}
	if database.driver == "" {
		database.driver = DriverPostgres
	}

	if config.AutoMigrate {
		if err := database.Migrate(); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	log.Info("database connected", zap.String("driver", database.driver))
	return database, nil
}

// Migrate runs gorm auto-migrations for the scan tables.
func (d *Database) Migrate() error {
	if err := d.DB.AutoMigrate(&models.ScanRecord{}, &models.FindingRecord{}); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if err := d.createIndexes(); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	d.logger.Info("database migrations completed")
	return nil
}

// createIndexes adds composite indexes gorm tags cannot express.
func (d *Database) createIndexes() error {
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_scans_fingerprint_date ON scans(fingerprint, scanned_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_findings_scan_rule ON findings(scan_id, rule_name)",
	}
	for _, stmt := range stmts {
		if err := d.DB.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// Driver returns the active driver name.
func (d *Database) Driver() string {
	return d.driver
}

// Health checks database connectivity
func (d *Database) Health(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetStats returns database connection statistics
func (d *Database) GetStats() map[string]interface{} {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return map[string]interface{}{"error": err.Error()}
	}

	stats := sqlDB.Stats()
	return map[string]interface{}{
		"driver":               d.driver,
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}

// ErrNotFound is returned when a scan id does not exist.
var ErrNotFound = errors.New("scan not found")
