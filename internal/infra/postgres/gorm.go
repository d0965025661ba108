package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sifan077/LinkSwift/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewGorm returns a gorm.DB for the links store, retrying the initial connect.
func NewGorm(ctx context.Context, cfg config.PostgresConfig) (*gorm.DB, error) {
	dsn := ConnString(cfg)

	var db *gorm.DB
	err := withRetry(ctx, cfg.ConnectRetries, func() error {
		opened, err := gorm.Open(postgres.Open(dsn), GormConfig())
		if err != nil {
			return fmt.Errorf("postgres: open gorm connection: %w", err)
		}
		db = opened
		return nil
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: retrieve sql db: %w", err)
	}
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	if cfg.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(int(cfg.MaxConns))
	}

	return db, nil
}

// GormConfig is shared by the production dialector and test dialectors so that
// constraint violations translate to gorm.ErrDuplicatedKey everywhere.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Warn),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	}
}

// AutoMigrate uses GORM to perform schema migrations for the provided models.
func AutoMigrate(ctx context.Context, db *gorm.DB, models ...interface{}) error {
	if db == nil || len(models) == 0 {
		return nil
	}

	if err := db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return fmt.Errorf("postgres: auto migrate: %w", err)
	}
	return nil
}
