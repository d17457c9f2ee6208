// Package database persists the commit ledger: one row per session commit
// outcome, kept for operational visibility only. The ledger lives in a local
// sqlite file or in a shared postgres or mysql database.
package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	// pure Go driver registered as "sqlite"
	_ "modernc.org/sqlite"

	"github.com/buildlearn/learning-session/internal/logger"
)

// Driver names accepted in the ledger configuration
const (
	DriverSQLite     = "sqlite"
	DriverSQLitePure = "sqlite-pure"
	DriverPostgres   = "postgres"
	DriverMySQL      = "mysql"
	DriverMariaDB    = "mariadb"
)

// ErrDSNRequired is returned for server databases configured without a DSN
var ErrDSNRequired = errors.New("dsn is required for this ledger driver")

// Config selects the ledger backend. Path is used by the sqlite drivers,
// DSN by postgres and mysql.
type Config struct {
	Driver string
	Path   string
	DSN    string
}

// Target returns the path or DSN the driver connects to, for logging
func (c Config) Target() string {
	if c.DSN != "" {
		return "dsn"
	}
	return c.Path
}

// Driver opens a gorm connection for one database flavour
type Driver interface {
	Prepare(cfg Config) error
	Dialector(cfg Config) gorm.Dialector
	Pragmas() []string
	MaxOpenConns() int
}

// SQLiteDriver uses the cgo sqlite3 driver
type SQLiteDriver struct{}

func (SQLiteDriver) Prepare(cfg Config) error {
	return prepareFile(cfg.Path)
}

func (SQLiteDriver) Dialector(cfg Config) gorm.Dialector {
	return sqlite.Open(cfg.Path)
}

func (SQLiteDriver) Pragmas() []string {
	return nil
}

// one writer at a time
func (SQLiteDriver) MaxOpenConns() int {
	return 1
}

// PureSQLiteDriver uses modernc.org/sqlite, no cgo required
type PureSQLiteDriver struct{}

func (PureSQLiteDriver) Prepare(cfg Config) error {
	return prepareFile(cfg.Path)
}

func (PureSQLiteDriver) Dialector(cfg Config) gorm.Dialector {
	return sqlite.Dialector{DriverName: "sqlite", DSN: cfg.Path}
}

func (PureSQLiteDriver) Pragmas() []string {
	return []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL"}
}

func (PureSQLiteDriver) MaxOpenConns() int {
	return 1
}

// PostgreSQLDriver stores the ledger in a shared PostgreSQL database
type PostgreSQLDriver struct{}

func (PostgreSQLDriver) Prepare(cfg Config) error {
	return requireDSN(cfg)
}

func (PostgreSQLDriver) Dialector(cfg Config) gorm.Dialector {
	return postgres.Open(cfg.DSN)
}

func (PostgreSQLDriver) Pragmas() []string {
	return nil
}

func (PostgreSQLDriver) MaxOpenConns() int {
	return 4
}

// MySQLDriver stores the ledger in MySQL or MariaDB
type MySQLDriver struct{}

func (MySQLDriver) Prepare(cfg Config) error {
	return requireDSN(cfg)
}

func (MySQLDriver) Dialector(cfg Config) gorm.Dialector {
	return mysql.Open(cfg.DSN)
}

func (MySQLDriver) Pragmas() []string {
	return nil
}

func (MySQLDriver) MaxOpenConns() int {
	return 4
}

// NewDriver maps a configured driver name to its implementation
func NewDriver(name string) (Driver, error) {
	switch name {
	case DriverSQLite:
		return SQLiteDriver{}, nil
	case "", DriverSQLitePure:
		return PureSQLiteDriver{}, nil
	case DriverPostgres:
		return PostgreSQLDriver{}, nil
	case DriverMySQL, DriverMariaDB:
		return MySQLDriver{}, nil
	}
	return nil, fmt.Errorf("unsupported ledger driver: %s", name)
}

func prepareFile(path string) error {
	if path == "" {
		return fmt.Errorf("ledger path is required")
	}
	if path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}
	return nil
}

func requireDSN(cfg Config) error {
	if cfg.DSN == "" {
		return fmt.Errorf("%s: %w", cfg.Driver, ErrDSNRequired)
	}
	return nil
}

func connect(cfg Config, log *logger.Logger) (*gorm.DB, error) {
	driver, err := NewDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if err := driver.Prepare(cfg); err != nil {
		return nil, err
	}

	db, err := gorm.Open(driver.Dialector(cfg), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(driver.MaxOpenConns())
	sqlDB.SetMaxIdleConns(driver.MaxOpenConns())
	sqlDB.SetConnMaxLifetime(time.Hour)

	for _, pragma := range driver.Pragmas() {
		if err := db.Exec(pragma).Error; err != nil {
			log.Warn("Failed to apply pragma", map[string]interface{}{
				"pragma": pragma,
				"error":  err.Error(),
			})
		}
	}
	return db, nil
}
