// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers: opening
// the master (tenant directory) database and the per-tenant data context
// factory. SQLite is used through the pure Go driver.
package repo

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/coverlane/go-policy-admin/internal/domain"
)

// ErrNoConnection indicates a tenant record with an empty connection string
// when no default connection is configured. This is a configuration error:
// the factory fails fast rather than guessing a database.
var ErrNoConnection = errors.New("tenant has no connection string and no default is configured")

// OpenMaster opens (or creates) the master database holding the tenant
// directory, applies PRAGMAs, and configures the connection pool. The master
// handle is long-lived and shared.
func OpenMaster(path string) (*gorm.DB, error) {
	// Fail early if the parent directory does not exist (instead of the
	// sqlite "out of memory (14)" error surfacing later).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// OpenTenant builds a data context bound exclusively to the given tenant's
// connection string. Contexts are short-lived: callers open one per
// repository call or transaction and close it with Close when done; handles
// are never shared across tenants or across concurrent fan-out branches.
//
// A tenant record with an empty connection string falls back to defaultDSN
// (bootstrap/super-admin-without-tenant scenario). If that is empty too,
// OpenTenant returns ErrNoConnection rather than silently connecting to the
// wrong database.
func OpenTenant(t domain.Tenant, defaultDSN string) (*gorm.DB, error) {
	dsn := strings.TrimSpace(t.ConnectionString)
	if dsn == "" {
		dsn = strings.TrimSpace(defaultDSN)
	}
	if dsn == "" {
		return nil, ErrNoConnection
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Short-lived context: keep the pool minimal.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxIdleTime(time.Minute)
	}

	return db, nil
}

// Close releases the underlying connection pool of a data context. Safe to
// defer immediately after OpenTenant.
func Close(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// MigrateMaster creates the tenant directory schema in the master database.
func MigrateMaster(db *gorm.DB) error {
	return db.AutoMigrate(&domain.Tenant{})
}

// MigrateTenant creates the policy schema inside one tenant database.
func MigrateTenant(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.PolicyType{},
		&domain.Policy{},
	)
}
