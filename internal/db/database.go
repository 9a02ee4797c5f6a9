package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/config"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/models"
)

// gormConfig shared by the postgres connection and in-memory test databases
func gormConfig() *gorm.Config {
	return &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		DisableAutomaticPing:                     true,
		TranslateError:                           true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	}
}

// Open connects to postgres and applies the pool settings.
// A "file:" DSN opens an embedded sqlite database instead, used by demo deployments.
func Open(cfg config.DatabaseConfig, log *logrus.Logger) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	if strings.HasPrefix(cfg.DSN, "file:") {
		log.Warn("Using embedded sqlite database")
		return OpenSQLite(cfg.DSN)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	log.Info("Database connected successfully")
	return db, nil
}

// Migrate creates or updates the schema, then runs the postgres data migrations.
func Migrate(db *gorm.DB, log *logrus.Logger) error {
	log.Info("Starting database schema migration")

	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		return fmt.Errorf("AutoMigrate failed: %w", err)
	}

	if db.Dialector.Name() == "postgres" {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to get sql.DB: %w", err)
		}
		if err := RunDataMigrations(sqlDB, log); err != nil {
			return err
		}
	}

	log.Info("Database schema migrated successfully")
	return nil
}

// OpenSQLite opens a sqlite database on a single connection, so writers serialize.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// OpenMemory migrated private in-memory database, for tests and local tooling.
func OpenMemory() (*gorm.DB, error) {
	db, err := OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		return nil, fmt.Errorf("AutoMigrate failed: %w", err)
	}
	return db, nil
}
