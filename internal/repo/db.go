// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver), tracing instrumentation and schema migrations.
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
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound so callers can match either.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates a unique constraint rejected the insert.
var ErrDuplicate = errors.New("duplicate")

// OpenOptions tunes OpenSQLite.
type OpenOptions struct {
	// Tracing installs the OpenTelemetry GORM plugin (spans per query).
	Tracing bool
	// Silent disables GORM's own query logger.
	Silent bool
}

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
//
// The claim path relies on SQLite serializing writers: with WAL and a busy
// timeout, concurrent conditional UPDATEs queue instead of failing.
func OpenSQLite(path string, opts ...OpenOptions) (*gorm.DB, error) {
	var o OpenOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	file := strings.TrimPrefix(path, "file:")
	if i := strings.IndexByte(file, '?'); i >= 0 {
		file = file[:i]
	}
	if dir := filepath.Dir(file); dir != "." && !strings.Contains(path, "mode=memory") {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	gcfg := &gorm.Config{}
	if o.Silent {
		gcfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(withPragmas(path)), gcfg)
	if err != nil {
		return nil, err
	}

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if o.Tracing {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, err
		}
	}

	return db, nil
}

// withPragmas appends per-connection PRAGMAs to the DSN. Setting them through
// db.Exec would only reach one pooled connection; busy_timeout in particular
// must hold on every connection or contended writers fail with SQLITE_BUSY.
func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join([]string{
		"_pragma=busy_timeout(5000)",
		"_pragma=journal_mode(WAL)",
		"_pragma=synchronous(NORMAL)",
		"_pragma=foreign_keys(1)",
	}, "&")
}

// AutoMigrate creates or updates every table the service owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Specialist{},
		&domain.Request{},
		&domain.DialogueSession{},
		&domain.Idempotency{},
	)
}

// isUniqueViolation detects unique-constraint failures across drivers that
// may not map to gorm.ErrDuplicatedKey. glebarez/sqlite often returns
// plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}
