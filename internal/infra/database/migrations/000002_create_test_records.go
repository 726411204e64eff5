package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/placement-engine/internal/repository"
	"gorm.io/gorm"
)

func createTestRecordsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_test_records",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.TestRecordModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_test_records_batch_position ON test_records (batch_id, position)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.TestRecordModel{})
		},
	}
}
