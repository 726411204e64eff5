package database

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/placement-engine/internal/infra/database/migrations"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to PostgreSQL when dsn is set and to the SQLite file at
// sqlitePath otherwise, then applies pending migrations.
func Open(dsn, sqlitePath string) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	if strings.TrimSpace(dsn) != "" {
		db, err = NewPostgres(dsn)
	} else {
		db, err = NewSQLite(sqlitePath)
	}
	if err != nil {
		return nil, err
	}

	if err := migrations.Migrate(db); err != nil {
		_ = Close(db)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Warn),
		SkipDefaultTransaction: true,
		TranslateError:         true,
	}
}
