package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/labsage/backend/internal/config"
	"github.com/labsage/backend/internal/logger"
	"github.com/labsage/backend/internal/models"
	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Connect opens the configured database. Failing here is the one fatal
// condition of the process, so the error is returned to main untouched.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.DBDriver {
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		}
		return OpenSQLite(cfg.SQLitePath + "?_busy_timeout=5000&_foreign_keys=on")
	case "postgres":
		conn, err := gorm.Open(postgres.Open(cfg.PostgresDSN()), &gorm.Config{Logger: newGormLogger()})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		logger.Info("Database connected successfully", map[string]interface{}{
			"driver": "postgres",
			"host":   cfg.DBHost,
			"name":   cfg.DBName,
		})
		return conn, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DBDriver)
	}
}

// OpenSQLite opens a SQLite database. The pool is pinned to one connection:
// SQLite serializes writers anyway, and ":memory:" databases are per-connection.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: newGormLogger()})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sqlite pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	logger.Info("Database connected successfully", map[string]interface{}{"driver": "sqlite", "dsn": dsn})
	return conn, nil
}

func newGormLogger() gormlogger.Interface {
	return gormlogger.New(logger.GetLogger(), gormlogger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  gormlogger.Error,
		IgnoreRecordNotFoundError: true,
	})
}

// EnsureDatabase creates the postgres database named in cfg when it does not
// exist yet. It is a no-op for sqlite.
func EnsureDatabase(cfg *config.Config) error {
	if cfg.DBDriver != "postgres" {
		return nil
	}

	conn, err := sql.Open("postgres", cfg.MaintenanceDSN())
	if err != nil {
		return fmt.Errorf("failed to open maintenance connection: %w", err)
	}
	defer conn.Close()

	var exists bool
	if err := conn.QueryRow("SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", cfg.DBName).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check database %q: %w", cfg.DBName, err)
	}
	if exists {
		return nil
	}

	if _, err := conn.Exec("CREATE DATABASE " + pq.QuoteIdentifier(cfg.DBName)); err != nil {
		var pqErr *pq.Error
		// 42P04 duplicate_database: another process won the race.
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("failed to create database %q: %w", cfg.DBName, err)
	}
	logger.Info("Created database", map[string]interface{}{"name": cfg.DBName})
	return nil
}

// AutoMigrate runs database migrations for every persisted surface.
func AutoMigrate(conn *gorm.DB) error {
	tables := []interface{}{
		&models.Fact{},
		&models.Incident{},
		&models.IncidentNarrative{},
		&models.LogEntry{},
		&models.LogSummaryDocument{},
		&models.MemoryCollection{},
		&models.MemoryRecord{},
	}
	for _, table := range tables {
		if err := conn.AutoMigrate(table); err != nil {
			return fmt.Errorf("migration of %T failed: %w", table, err)
		}
	}
	logger.Info("All database migrations completed successfully", map[string]interface{}{"tables": len(tables)})
	return nil
}

// Ping verifies the underlying connection, used by /health.
func Ping(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("database connection not initialized")
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close releases the pool.
func Close(conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
