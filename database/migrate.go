package database

import (
	"fmt"
	"time"

	"social_backend/internal/config"
	"social_backend/internal/logger"
	"social_backend/internal/models"
	chatmodels "social_backend/internal/models/chat"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Now is the timestamp source for gorm's autoCreate/autoUpdate columns.
// Stored times are UTC with microsecond precision, which every supported
// engine round-trips without loss.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Dialector picks the gorm driver for database.driver.
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "postgres", "":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// Open connects, applies pool settings and pings.
func Open(cfg *config.Config) (*gorm.DB, error) {
	dialector, err := Dialector(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	logLevel := gormlogger.Warn
	if cfg.Server.Env == "development" {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		NowFunc:        Now,
		Logger:         gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get *sql.DB from gorm: %w", err)
	}
	if cfg.Database.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database unavailable: %w", err)
	}
	return db, nil
}

// AutoMigrate creates or updates every table this service owns, plus the
// profiles table so that local and test databases can be seeded.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Profile{},
		&models.Upload{},
		&chatmodels.Chat{},
		&chatmodels.Participant{},
		&chatmodels.Message{},
		&chatmodels.MessageRead{},
	)
	if err != nil {
		return fmt.Errorf("auto-migrate failed: %w", err)
	}
	logger.Info("AutoMigrate completed")
	return nil
}
