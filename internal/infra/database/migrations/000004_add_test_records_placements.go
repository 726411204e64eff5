package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/placement-engine/internal/repository"
	"gorm.io/gorm"
)

// Per-provider seed counts behind a completed record's outcome.
func addTestRecordsPlacementsColumn() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_add_test_records_placements",
		Migrate: func(tx *gorm.DB) error {
			if tx.Migrator().HasColumn(&repository.TestRecordModel{}, "Placements") {
				return nil
			}
			return tx.Migrator().AddColumn(&repository.TestRecordModel{}, "Placements")
		},
		Rollback: func(tx *gorm.DB) error {
			if !tx.Migrator().HasColumn(&repository.TestRecordModel{}, "Placements") {
				return nil
			}
			return tx.Migrator().DropColumn(&repository.TestRecordModel{}, "Placements")
		},
	}
}
