// Package datastore owns the local SQLite database shared by the key/value
// store and the service worker response cache.
package datastore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/staysense/staysense-go/internal/datastore/entities"
	"github.com/staysense/staysense-go/internal/errors"
	"github.com/staysense/staysense-go/internal/logger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// DatabaseFile is the SQLite file name inside the data directory.
const DatabaseFile = "staysense.db"

// Config configures a Manager.
type Config struct {
	// DataDir holds the database file. Ignored when InMemory is set.
	DataDir string
	// InMemory opens a private in-memory database.
	InMemory bool
	// Debug enables gorm statement logging.
	Debug bool
}

// Manager opens and migrates the local database.
type Manager struct {
	db     *gorm.DB
	path   string
	logger logger.Logger
}

// NewSQLiteManager opens the SQLite database described by cfg.
func NewSQLiteManager(cfg Config, log logger.Logger) (*Manager, error) {
	dsn := "file::memory:?_foreign_keys=ON"
	path := ":memory:"
	if !cfg.InMemory {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, errors.Newf("failed to create data directory: %w", err).
				Component("datastore").
				Category(errors.CategoryStorage).
				Context("data_dir", cfg.DataDir).
				Build()
		}
		path = filepath.Join(cfg.DataDir, DatabaseFile)
		dsn = fmt.Sprintf("file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", path)
	}

	level := gorm_logger.Silent
	if cfg.Debug {
		level = gorm_logger.Info
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, errors.Newf("failed to open database: %w", err).
			Component("datastore").
			Category(errors.CategoryStorage).
			Context("path", path).
			Build()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps an
	// in-memory database alive and shared.
	sqlDB.SetMaxOpenConns(1)

	return &Manager{db: db, path: path, logger: log.Module("datastore")}, nil
}

// Initialize creates or migrates all tables.
func (m *Manager) Initialize() error {
	err := m.db.AutoMigrate(
		&entities.KVEntry{},
		&entities.CachePartition{},
		&entities.CachedResponse{},
	)
	if err != nil {
		return errors.Newf("failed to migrate database: %w", err).
			Component("datastore").
			Category(errors.CategoryStorage).
			Context("path", m.path).
			Build()
	}
	m.logger.Debug("database ready", logger.String("path", m.path))
	return nil
}

// DB returns the underlying gorm handle.
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Path returns the database file path, or ":memory:".
func (m *Manager) Path() string {
	return m.path
}

// Close closes the database.
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.Close()
}
