package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config selects a driver and its connection parameters. DSN, when set, is used verbatim.
type Config struct {
	Driver   string
	Path     string // sqlite file; empty or ":memory:" for a shared in-memory database
	DSN      string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

// Open connects with gorm's logger silenced; roster logs through zap instead.
func Open(cfg Config) (*gorm.DB, error) {
	dialect, err := dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialect, &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect.Name(), err)
	}
	return db, nil
}

// AutoMigrateAndSeed convenience helper used during command start-up.
func AutoMigrateAndSeed(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	if err := AutoMigrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if err := SeedData(db); err != nil {
		return fmt.Errorf("seed data: %w", err)
	}

	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
