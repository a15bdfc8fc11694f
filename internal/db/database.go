package db

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/toncenter/examples/internal/config"
	"github.com/toncenter/examples/internal/metrics"
	"github.com/toncenter/examples/internal/models"
)

// Open connects to postgres with the pool settings from cfg
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		PrepareStmt:                              true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	metrics.DBConnectionStatus.Set(1)
	logrus.Info("✅ Database connected successfully")
	return db, nil
}

// Migrate creates or updates the engine tables and runs the data migrations
func Migrate(db *gorm.DB) error {
	logrus.Info("🚀 Starting database schema migration with GORM AutoMigrate...")
	if err := db.AutoMigrate(
		&models.WithdrawalRequest{},
		&models.Batch{},
		&models.LedgerCursor{},
		&models.Sequence{},
	); err != nil {
		return fmt.Errorf("AutoMigrate failed: %w", err)
	}
	if err := RunDataMigrations(db); err != nil {
		return fmt.Errorf("data migrations failed: %w", err)
	}
	logrus.Info("✅ Database schema migrated successfully")
	return nil
}

// ReportPoolStats publishes connection pool gauges
func ReportPoolStats(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		return
	}
	if err := sqlDB.Ping(); err != nil {
		metrics.DBConnectionStatus.Set(0)
	} else {
		metrics.DBConnectionStatus.Set(1)
	}
	metrics.DBConnectionOpen.Set(float64(sqlDB.Stats().OpenConnections))
}
