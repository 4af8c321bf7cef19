// Package database owns the gorm connection and the catalog schema.
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ferrite-media/ferrite/internal/config"
	"github.com/ferrite-media/ferrite/internal/logger"
)

// Open connects to the configured database, tunes the pool and migrates the
// schema. SQLite is the default; postgres is selected via database.type.
func Open(cfg *config.Config) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)

	logMode := gormlogger.Default.LogMode(gormlogger.Silent)
	if cfg.Database.LogQueries {
		logMode = gormlogger.Default.LogMode(gormlogger.Info)
	}
	gormCfg := &gorm.Config{Logger: logMode}

	switch cfg.Database.Type {
	case "postgres":
		db, err = gorm.Open(postgres.Open(cfg.Database.URL), gormCfg)
	case "sqlite":
		if mkErr := os.MkdirAll(filepath.Dir(cfg.DatabasePath()), 0o755); mkErr != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", mkErr)
		}
		// WAL allows readers to proceed while the single writer holds the
		// database; busy_timeout keeps short writer collisions invisible.
		dsn := cfg.DatabasePath() + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(2 * time.Hour)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	logger.Info("database initialized", "type", cfg.Database.Type)
	return db, nil
}

// Migrate applies the catalog schema.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&User{},
		&Library{},
		&MediaItem{},
		&MediaStream{},
		&ExternalSubtitle{},
		&Show{},
		&Season{},
		&Episode{},
		&Movie{},
		&PlaybackProgress{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
